package mysql

import (
	"context"
	"fmt"

	"trainfleet/pkg/errs"

	"gorm.io/gorm"
)

// ShardRepository handles shard persistence in MySQL
type ShardRepository struct {
	ds *Datastore
}

// NewShardRepository creates a new shard repository
func NewShardRepository(ds *Datastore) *ShardRepository {
	return &ShardRepository{ds: ds}
}

// Get retrieves a shard by shard_id
func (r *ShardRepository) Get(ctx context.Context, shardID string) (*Shard, error) {
	var shard Shard
	err := r.ds.DB(ctx).Where("shard_id = ?", shardID).First(&shard).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFoundf("shard %s", shardID)
		}
		return nil, fmt.Errorf("failed to get shard: %w", err)
	}
	return &shard, nil
}

// ListByJob retrieves all shards of a job in partition order
func (r *ShardRepository) ListByJob(ctx context.Context, jobID string) ([]*Shard, error) {
	var shards []*Shard
	err := r.ds.DB(ctx).
		Where("job_id = ?", jobID).
		Order("shard_index ASC").
		Find(&shards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}
	return shards, nil
}

// ListByStatus retrieves shards in a status, oldest first. Used by the claim
// coordinator to discover claimable shards of distributed jobs whose parent
// may already be RUNNING.
func (r *ShardRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*Shard, error) {
	if limit <= 0 {
		limit = 100
	}
	var shards []*Shard
	err := r.ds.DB(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&shards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list shards by status: %w", err)
	}
	return shards, nil
}

// Transition changes shard status with the same CAS contract as
// JobRepository.Transition.
func (r *ShardRepository) Transition(ctx context.Context, shardID, fromStatus, toStatus string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": toStatus}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.ds.DB(ctx).Model(&Shard{}).
		Where("shard_id = ? AND status = ?", shardID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition shard: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.ds.DB(ctx).Model(&Shard{}).Where("shard_id = ?", shardID).Count(&count).Error; err == nil && count == 0 {
			return errs.NotFoundf("shard %s", shardID)
		}
		return errs.Conflictf("shard %s is not %s", shardID, fromStatus)
	}

	return nil
}

// SetProgressIfRunning updates shard progress only while RUNNING; stale
// reports are dropped without error.
func (r *ShardRepository) SetProgressIfRunning(ctx context.Context, shardID string, progress int) (bool, error) {
	result := r.ds.DB(ctx).Model(&Shard{}).
		Where("shard_id = ? AND status = ?", shardID, "RUNNING").
		Update("progress", progress)
	if result.Error != nil {
		return false, fmt.Errorf("failed to set shard progress: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CancelPending cancels all still-pending shards of a job. Used by the
// fail-fast policy when a sibling shard fails, and by job cancellation.
func (r *ShardRepository) CancelPending(ctx context.Context, jobID string) error {
	return r.ds.DB(ctx).Model(&Shard{}).
		Where("job_id = ? AND status = ?", jobID, "PENDING").
		Update("status", "CANCELLED").Error
}
