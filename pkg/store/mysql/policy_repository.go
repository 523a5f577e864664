package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Primary key of the single capacity policy row.
const policyRowID = 1

// PolicyRepository handles the single-row capacity policy
type PolicyRepository struct {
	ds *Datastore
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(ds *Datastore) *PolicyRepository {
	return &PolicyRepository{ds: ds}
}

// Get retrieves the capacity policy row, or nil if it was never seeded
func (r *PolicyRepository) Get(ctx context.Context) (*CapacityPolicy, error) {
	var policy CapacityPolicy
	err := r.ds.DB(ctx).Where("id = ?", policyRowID).First(&policy).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get capacity policy: %w", err)
	}
	return &policy, nil
}

// Save writes the policy row, last write wins. Admin edits are low-frequency
// single-operator actions, so no CAS here.
func (r *PolicyRepository) Save(ctx context.Context, policy *CapacityPolicy) error {
	policy.ID = policyRowID
	policy.UpdatedAt = time.Now()
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(policy).Error
	if err != nil {
		return fmt.Errorf("failed to save capacity policy: %w", err)
	}
	return nil
}

// EnsureDefault seeds the policy row on first boot if it does not exist yet
func (r *PolicyRepository) EnsureDefault(ctx context.Context, defaults *CapacityPolicy) error {
	existing, err := r.Get(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return r.Save(ctx, defaults)
}
