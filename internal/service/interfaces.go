package service

import (
	"context"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/store/mysql"
	redisstore "trainfleet/pkg/store/redis"
)

type jobRepository interface {
	Create(ctx context.Context, job *mysql.Job) error
	CreateWithShards(ctx context.Context, job *mysql.Job, shards []*mysql.Shard) error
	Get(ctx context.Context, jobID string) (*mysql.Job, error)
	Transition(ctx context.Context, jobID, fromStatus, toStatus string, fields map[string]interface{}) error
	OverrideStatus(ctx context.Context, jobID string, updates map[string]interface{}) error
	SetProgressIfRunning(ctx context.Context, jobID string, progress int) (bool, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*mysql.Job, error)
	List(ctx context.Context, filters map[string]interface{}, limit, offset int) ([]*mysql.Job, error)
	Count(ctx context.Context, filters map[string]interface{}) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	Delete(ctx context.Context, jobID string) error
}

type shardRepository interface {
	Get(ctx context.Context, shardID string) (*mysql.Shard, error)
	ListByJob(ctx context.Context, jobID string) ([]*mysql.Shard, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*mysql.Shard, error)
	Transition(ctx context.Context, shardID, fromStatus, toStatus string, fields map[string]interface{}) error
	SetProgressIfRunning(ctx context.Context, shardID string, progress int) (bool, error)
	CancelPending(ctx context.Context, jobID string) error
}

type logRepository interface {
	Append(ctx context.Context, jobID, message string, ts time.Time) error
	AppendBatch(ctx context.Context, jobID string, messages []string, ts time.Time) error
	ListByJob(ctx context.Context, jobID string) ([]*mysql.JobLog, error)
}

type policyRepository interface {
	Get(ctx context.Context) (*mysql.CapacityPolicy, error)
	Save(ctx context.Context, policy *mysql.CapacityPolicy) error
}

type workerRepository interface {
	Save(ctx context.Context, worker *model.Worker) error
	Get(ctx context.Context, workerID string) (*model.Worker, error)
	GetAll(ctx context.Context) ([]*model.Worker, error)
	Delete(ctx context.Context, workerID string) error
	Upsert(ctx context.Context, workerID string, mutate func(*model.Worker)) (*model.Worker, error)
}

type maintenanceRepository interface {
	Get(ctx context.Context) (*model.Maintenance, error)
	Set(ctx context.Context, flag *model.Maintenance) error
}

type notifier interface {
	PublishJobEvent(ctx context.Context, event *model.JobEvent) error
}

// compile-time assertions

var (
	_ jobRepository         = (*mysql.JobRepository)(nil)
	_ shardRepository       = (*mysql.ShardRepository)(nil)
	_ logRepository         = (*mysql.JobLogRepository)(nil)
	_ policyRepository      = (*mysql.PolicyRepository)(nil)
	_ workerRepository      = (*redisstore.WorkerRepository)(nil)
	_ maintenanceRepository = (*redisstore.MaintenanceRepository)(nil)
)
