package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"

	"github.com/go-redis/redis/v8"
)

const (
	workerKeyPrefix = "worker:"        // Worker data
	workerSetKey    = "workers:active" // Registered worker id set
	workerDataTTL   = 24 * time.Hour   // Safety TTL; the liveness sweep removes long-offline workers first
)

// WorkerRepository manages worker rows in Redis. Worker state is ephemeral
// by nature (a row is recreated by the next heartbeat), so Redis with a
// safety TTL is the system of record.
type WorkerRepository struct {
	redis *redis.Client
}

// NewWorkerRepository creates Worker repository
func NewWorkerRepository(redisClient *RedisClient) *WorkerRepository {
	return &WorkerRepository{
		redis: redisClient.GetClient(),
	}
}

// Save saves Worker information
func (r *WorkerRepository) Save(ctx context.Context, worker *model.Worker) error {
	key := workerKeyPrefix + worker.ID
	data, err := json.Marshal(worker)
	if err != nil {
		return fmt.Errorf("failed to marshal worker: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, key, data, workerDataTTL)
	pipe.SAdd(ctx, workerSetKey, worker.ID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}

	return nil
}

// Get retrieves Worker information
func (r *WorkerRepository) Get(ctx context.Context, workerID string) (*model.Worker, error) {
	key := workerKeyPrefix + workerID
	data, err := r.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, errs.NotFoundf("worker %s", workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	var worker model.Worker
	if err := json.Unmarshal([]byte(data), &worker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker: %w", err)
	}

	return &worker, nil
}

// GetAll retrieves all registered Workers
func (r *WorkerRepository) GetAll(ctx context.Context) ([]*model.Worker, error) {
	workerIDs, err := r.redis.SMembers(ctx, workerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get worker list: %w", err)
	}

	if len(workerIDs) == 0 {
		return []*model.Worker{}, nil
	}

	// Pipeline batch fetch: one round-trip for the whole fleet
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(workerIDs))
	for _, workerID := range workerIDs {
		cmds = append(cmds, pipe.Get(ctx, workerKeyPrefix+workerID))
	}

	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		// Pipeline failed, fall back to individual gets
		workers := make([]*model.Worker, 0, len(workerIDs))
		for _, workerID := range workerIDs {
			worker, err := r.Get(ctx, workerID)
			if err != nil {
				continue
			}
			workers = append(workers, worker)
		}
		return workers, nil
	}

	workers := make([]*model.Worker, 0, len(workerIDs))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Row expired while still in the id set; drop the stale member
			r.redis.SRem(ctx, workerSetKey, workerIDs[i])
			continue
		}

		var worker model.Worker
		if err := json.Unmarshal([]byte(data), &worker); err != nil {
			continue
		}
		workers = append(workers, &worker)
	}

	return workers, nil
}

// Delete removes a worker row and its set membership
func (r *WorkerRepository) Delete(ctx context.Context, workerID string) error {
	pipe := r.redis.Pipeline()
	pipe.Del(ctx, workerKeyPrefix+workerID)
	pipe.SRem(ctx, workerSetKey, workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	return nil
}

// Upsert loads the worker and applies mutate, creating the row with
// constructor defaults on first contact. Registration is implicit in the
// first heartbeat; there is no separate create call.
func (r *WorkerRepository) Upsert(ctx context.Context, workerID string, mutate func(*model.Worker)) (*model.Worker, error) {
	worker, err := r.Get(ctx, workerID)
	if err != nil {
		if !errs.IsNotFound(err) {
			return nil, err
		}
		worker = &model.Worker{
			ID:           workerID,
			Status:       model.WorkerStatusIdle,
			RegisteredAt: time.Now(),
		}
	}

	mutate(worker)

	if err := r.Save(ctx, worker); err != nil {
		return nil, err
	}
	return worker, nil
}
