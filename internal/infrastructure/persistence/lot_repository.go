package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLotRepository implements LotRepository using GORM.
type GormLotRepository struct {
	db *gorm.DB
}

// NewGormLotRepository creates a new GormLotRepository.
func NewGormLotRepository(db *gorm.DB) *GormLotRepository {
	return &GormLotRepository{db: db}
}

// FindByID finds a lot by its ID.
func (r *GormLotRepository) FindByID(ctx context.Context, id uuid.UUID) (*stock.Lot, error) {
	var lot stock.Lot
	if err := r.db.WithContext(ctx).First(&lot, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &lot, nil
}

// FindByIDForTenant finds a lot by ID within a tenant.
func (r *GormLotRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*stock.Lot, error) {
	var lot stock.Lot
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&lot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &lot, nil
}

// FindByIDs finds multiple lots within a tenant.
func (r *GormLotRepository) FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*stock.Lot, error) {
	if len(ids) == 0 {
		return []*stock.Lot{}, nil
	}

	var lots []*stock.Lot
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("entry_date ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// FindAllocatable finds a product's lots with remaining stock, ordered
// the way the FIFO planner consumes them: entry date ascending, lot ID
// ascending as the tie-break.
func (r *GormLotRepository) FindAllocatable(ctx context.Context, tenantID, productID uuid.UUID) ([]*stock.Lot, error) {
	return r.findAllocatable(ctx, r.db, tenantID, productID)
}

// FindAllocatableForUpdate is FindAllocatable with row-level write locks.
// The locks are held until the surrounding transaction ends, so two
// concurrent sales of the same product serialize here.
func (r *GormLotRepository) FindAllocatableForUpdate(ctx context.Context, tenantID, productID uuid.UUID) ([]*stock.Lot, error) {
	return r.findAllocatable(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, productID)
}

func (r *GormLotRepository) findAllocatable(ctx context.Context, db *gorm.DB, tenantID, productID uuid.UUID) ([]*stock.Lot, error) {
	var lots []*stock.Lot
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND remaining_quantity > 0", tenantID, productID).
		Order("entry_date ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// FindByIDsForUpdate finds lots by ID with row-level write locks.
func (r *GormLotRepository) FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*stock.Lot, error) {
	if len(ids) == 0 {
		return []*stock.Lot{}, nil
	}

	var lots []*stock.Lot
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("entry_date ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// FindByProduct lists all of a product's lots, consumed or not.
func (r *GormLotRepository) FindByProduct(ctx context.Context, tenantID, productID uuid.UUID, filter shared.Filter) ([]*stock.Lot, error) {
	var lots []*stock.Lot
	query := applyFilter(
		r.db.WithContext(ctx).Model(&stock.Lot{}).
			Where("tenant_id = ? AND product_id = ?", tenantID, productID),
		filter, LotSortFields, "entry_date ASC, id ASC",
	)

	if err := query.Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// FindExpiringBefore lists lots with remaining stock expiring before the
// deadline.
func (r *GormLotRepository) FindExpiringBefore(ctx context.Context, tenantID uuid.UUID, deadline time.Time, filter shared.Filter) ([]*stock.Lot, error) {
	var lots []*stock.Lot
	query := applyFilter(
		r.db.WithContext(ctx).Model(&stock.Lot{}).
			Where("tenant_id = ? AND remaining_quantity > 0 AND expiration_date IS NOT NULL AND expiration_date < ?",
				tenantID, deadline),
		filter, LotSortFields, "expiration_date ASC",
	)

	if err := query.Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// Save creates or fully updates a lot without a version check.
func (r *GormLotRepository) Save(ctx context.Context, lot *stock.Lot) error {
	return r.db.WithContext(ctx).Save(lot).Error
}

// SaveWithLock persists the lot's remaining quantity with an optimistic
// version check. A return can bump the same lot more than once (one
// Restore per reversed allocation), so the check is a floor rather than
// an exact match; callers that mutate lots hold row locks from the
// ForUpdate finders, which rules out a concurrent writer in the gap.
func (r *GormLotRepository) SaveWithLock(ctx context.Context, lot *stock.Lot) error {
	result := r.db.WithContext(ctx).
		Model(lot).
		Where("id = ? AND version < ?", lot.ID, lot.Version).
		Updates(map[string]interface{}{
			"remaining_quantity": lot.RemainingQuantity,
			"version":            lot.Version,
			"updated_at":         lot.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Ensure GormLotRepository implements LotRepository
var _ stock.LotRepository = (*GormLotRepository)(nil)
