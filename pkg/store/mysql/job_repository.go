package mysql

import (
	"context"
	"fmt"

	"trainfleet/pkg/errs"

	"gorm.io/gorm"
)

// JobRepository handles job persistence in MySQL
type JobRepository struct {
	ds *Datastore
}

// NewJobRepository creates a new job repository
func NewJobRepository(ds *Datastore) *JobRepository {
	return &JobRepository{ds: ds}
}

// Create creates a new job
func (r *JobRepository) Create(ctx context.Context, job *Job) error {
	return r.ds.DB(ctx).Create(job).Error
}

// CreateWithShards creates a job and its shard rows in one transaction so a
// distributed job is never visible without its claimable units.
func (r *JobRepository) CreateWithShards(ctx context.Context, job *Job, shards []*Shard) error {
	return r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		if err := r.ds.DB(txCtx).Create(job).Error; err != nil {
			return err
		}
		if len(shards) == 0 {
			return nil
		}
		return r.ds.DB(txCtx).Create(shards).Error
	})
}

// Get retrieves a job by job_id
func (r *JobRepository) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := r.ds.DB(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFoundf("job %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Transition changes job status with a CAS (Compare-And-Swap) on the current
// status. This is the only legal way to change status outside admin override:
// the conditional UPDATE is the engine's sole synchronization primitive.
// Returns errs.ErrConflict if the job exists but its status no longer matches
// fromStatus, errs.ErrNotFound if the job does not exist.
func (r *JobRepository) Transition(ctx context.Context, jobID, fromStatus, toStatus string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": toStatus}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.ds.DB(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition job: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.ds.DB(ctx).Model(&Job{}).Where("job_id = ?", jobID).Count(&count).Error; err == nil && count == 0 {
			return errs.NotFoundf("job %s", jobID)
		}
		return errs.Conflictf("job %s is not %s", jobID, fromStatus)
	}

	return nil
}

// OverrideStatus updates job fields unconditionally. Admin escape hatch,
// intentionally not subject to the CAS check.
func (r *JobRepository) OverrideStatus(ctx context.Context, jobID string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&Job{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to override job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFoundf("job %s", jobID)
	}
	return nil
}

// SetProgressIfRunning updates progress only while the job is RUNNING.
// A zero row count is not an error: stale reports from reclaimed workers
// are silently dropped.
func (r *JobRepository) SetProgressIfRunning(ctx context.Context, jobID string, progress int) (bool, error) {
	result := r.ds.DB(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, "RUNNING").
		Update("progress", progress)
	if result.Error != nil {
		return false, fmt.Errorf("failed to set job progress: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByStatus retrieves jobs in a status, oldest first (submission order)
func (r *JobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []*Job
	err := r.ds.DB(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	return jobs, nil
}

// List retrieves jobs with optional filters, newest first
func (r *JobRepository) List(ctx context.Context, filters map[string]interface{}, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.ds.DB(ctx).Model(&Job{})
	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}

	var jobs []*Job
	err := query.
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Count counts jobs matching the filters
func (r *JobRepository) Count(ctx context.Context, filters map[string]interface{}) (int64, error) {
	query := r.ds.DB(ctx).Model(&Job{})
	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// CountByStatus counts jobs in a status globally
func (r *JobRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&Job{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// Delete removes a job together with its shards and logs
func (r *JobRepository) Delete(ctx context.Context, jobID string) error {
	return r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		if err := r.ds.DB(txCtx).Where("job_id = ?", jobID).Delete(&Shard{}).Error; err != nil {
			return err
		}
		if err := r.ds.DB(txCtx).Where("job_id = ?", jobID).Delete(&JobLog{}).Error; err != nil {
			return err
		}
		result := r.ds.DB(txCtx).Where("job_id = ?", jobID).Delete(&Job{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NotFoundf("job %s", jobID)
		}
		return nil
	})
}

// GetRunningByWorker retrieves the running jobs assigned to a worker
func (r *JobRepository) GetRunningByWorker(ctx context.Context, workerID string) ([]*Job, error) {
	var jobs []*Job
	err := r.ds.DB(ctx).
		Where("assigned_worker_id = ? AND status = ?", workerID, "RUNNING").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs by worker: %w", err)
	}
	return jobs, nil
}
