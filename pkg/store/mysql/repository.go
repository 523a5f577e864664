package mysql

import (
	"fmt"
)

// Repository aggregates all MySQL-backed repositories behind one connection
type Repository struct {
	ds *Datastore

	Jobs   *JobRepository
	Shards *ShardRepository
	Logs   *JobLogRepository
	Policy *PolicyRepository
}

// NewRepository opens the datastore, runs schema migration and wires the
// per-entity repositories.
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}

	if err := ds.GetDB().AutoMigrate(&Job{}, &Shard{}, &JobLog{}, &CapacityPolicy{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Repository{
		ds:     ds,
		Jobs:   NewJobRepository(ds),
		Shards: NewShardRepository(ds),
		Logs:   NewJobLogRepository(ds),
		Policy: NewPolicyRepository(ds),
	}, nil
}

// Datastore exposes the underlying datastore for transaction composition
func (r *Repository) Datastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
