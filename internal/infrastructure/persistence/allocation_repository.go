package persistence

import (
	"context"
	"errors"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAllocationRepository implements AllocationRepository using GORM.
// Allocation rows are append-only in their quantity and cost fields; the
// only update ever issued is flipping the reversed marker.
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository.
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// FindByID finds an allocation by its ID.
func (r *GormAllocationRepository) FindByID(ctx context.Context, id uuid.UUID) (*stock.Allocation, error) {
	var allocation stock.Allocation
	if err := r.db.WithContext(ctx).First(&allocation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

// FindBySaleLine finds all allocations for a sale line in creation order.
func (r *GormAllocationRepository) FindBySaleLine(ctx context.Context, tenantID, saleLineID uuid.UUID) ([]*stock.Allocation, error) {
	var allocations []*stock.Allocation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_line_id = ?", tenantID, saleLineID).
		Order("created_at ASC, id ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// FindBySaleLines finds allocations for multiple sale lines.
func (r *GormAllocationRepository) FindBySaleLines(ctx context.Context, tenantID uuid.UUID, saleLineIDs []uuid.UUID) ([]*stock.Allocation, error) {
	if len(saleLineIDs) == 0 {
		return []*stock.Allocation{}, nil
	}

	var allocations []*stock.Allocation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_line_id IN ?", tenantID, saleLineIDs).
		Order("created_at ASC, id ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// FindByLot finds all allocations drawn from a lot.
func (r *GormAllocationRepository) FindByLot(ctx context.Context, tenantID, lotID uuid.UUID) ([]*stock.Allocation, error) {
	var allocations []*stock.Allocation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND lot_id = ?", tenantID, lotID).
		Order("created_at ASC, id ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// CreateBatch persists new allocation records.
func (r *GormAllocationRepository) CreateBatch(ctx context.Context, allocations []*stock.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&allocations).Error
}

// MarkReversed persists the reversed marker for the given allocations.
func (r *GormAllocationRepository) MarkReversed(ctx context.Context, allocations []*stock.Allocation) error {
	for _, a := range allocations {
		result := r.db.WithContext(ctx).
			Model(&stock.Allocation{}).
			Where("id = ? AND reversed = ?", a.ID, false).
			Updates(map[string]interface{}{
				"reversed":    a.Reversed,
				"reversed_at": a.ReversedAt,
				"updated_at":  a.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrOverReturn
		}
	}
	return nil
}

// Ensure GormAllocationRepository implements AllocationRepository
var _ stock.AllocationRepository = (*GormAllocationRepository)(nil)
