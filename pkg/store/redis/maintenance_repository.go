package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"trainfleet/internal/model"

	"github.com/go-redis/redis/v8"
)

const maintenanceKey = "maintenance:flag"

// MaintenanceRepository stores the operator maintenance flag as a single
// JSON key. No TTL: the flag outlives restarts until explicitly disabled.
type MaintenanceRepository struct {
	redis *redis.Client
}

// NewMaintenanceRepository creates Maintenance repository
func NewMaintenanceRepository(redisClient *RedisClient) *MaintenanceRepository {
	return &MaintenanceRepository{
		redis: redisClient.GetClient(),
	}
}

// Get retrieves the maintenance flag; a missing key means maintenance off
func (r *MaintenanceRepository) Get(ctx context.Context) (*model.Maintenance, error) {
	data, err := r.redis.Get(ctx, maintenanceKey).Result()
	if err == redis.Nil {
		return &model.Maintenance{Enabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get maintenance flag: %w", err)
	}

	var flag model.Maintenance
	if err := json.Unmarshal([]byte(data), &flag); err != nil {
		return nil, fmt.Errorf("failed to unmarshal maintenance flag: %w", err)
	}
	return &flag, nil
}

// Set writes the maintenance flag, last write wins
func (r *MaintenanceRepository) Set(ctx context.Context, flag *model.Maintenance) error {
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("failed to marshal maintenance flag: %w", err)
	}
	if err := r.redis.Set(ctx, maintenanceKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set maintenance flag: %w", err)
	}
	return nil
}
