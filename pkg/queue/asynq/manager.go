package asynq

import (
	"context"
	"encoding/json"
	"fmt"

	"trainfleet/internal/model"
	"trainfleet/pkg/config"
	"trainfleet/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeJobEvent = "job:event"
)

// Manager enqueues job lifecycle events for the presentation layer.
// The dashboard process runs the matching asynq worker; this side only
// produces.
type Manager struct {
	client *asynq.Client
	queue  string
}

// NewManager creates the event queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	return &Manager{
		client: asynq.NewClient(redisOpt),
		queue:  cfg.Notify.Queue,
	}, nil
}

// PublishJobEvent enqueues one job lifecycle event. Delivery is durable but
// asynchronous; failures are logged and never fail the originating request.
func (m *Manager) PublishJobEvent(ctx context.Context, event *model.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	task := asynq.NewTask(TypeJobEvent, payload)

	info, err := m.client.EnqueueContext(ctx, task, asynq.Queue(m.queue))
	if err != nil {
		return fmt.Errorf("failed to enqueue job event: %w", err)
	}

	logger.DebugCtx(ctx, "job event enqueued, type: %s, job_id: %s, queue: %s", event.Type, event.JobID, info.Queue)
	return nil
}

// Close closes the asynq client
func (m *Manager) Close() error {
	return m.client.Close()
}
