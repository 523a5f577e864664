package mysql

import (
	"context"
	"fmt"
	"time"
)

// JobLogRepository handles the append-only job log table
type JobLogRepository struct {
	ds *Datastore
}

// NewJobLogRepository creates a new job log repository
func NewJobLogRepository(ds *Datastore) *JobLogRepository {
	return &JobLogRepository{ds: ds}
}

// Append appends one log line. Lines are never updated or reordered.
func (r *JobLogRepository) Append(ctx context.Context, jobID, message string, ts time.Time) error {
	line := &JobLog{
		JobID:     jobID,
		Timestamp: ts,
		Message:   message,
	}
	if err := r.ds.DB(ctx).Create(line).Error; err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// AppendBatch appends multiple lines from one caller preserving their order.
// A single INSERT keeps the caller's ordering contiguous in the table.
func (r *JobLogRepository) AppendBatch(ctx context.Context, jobID string, messages []string, ts time.Time) error {
	if len(messages) == 0 {
		return nil
	}
	lines := make([]*JobLog, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, &JobLog{
			JobID:     jobID,
			Timestamp: ts,
			Message:   msg,
		})
	}
	if err := r.ds.DB(ctx).Create(lines).Error; err != nil {
		return fmt.Errorf("failed to append job logs: %w", err)
	}
	return nil
}

// ListByJob retrieves all log lines of a job in insertion order
func (r *JobLogRepository) ListByJob(ctx context.Context, jobID string) ([]*JobLog, error) {
	var lines []*JobLog
	err := r.ds.DB(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	return lines, nil
}
