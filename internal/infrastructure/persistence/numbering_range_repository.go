package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormNumberingRangeRepository implements NumberingRangeRepository using GORM.
type GormNumberingRangeRepository struct {
	db *gorm.DB
}

// NewGormNumberingRangeRepository creates a new GormNumberingRangeRepository.
func NewGormNumberingRangeRepository(db *gorm.DB) *GormNumberingRangeRepository {
	return &GormNumberingRangeRepository{db: db}
}

// FindByID finds a numbering range by its ID.
func (r *GormNumberingRangeRepository) FindByID(ctx context.Context, id uuid.UUID) (*numbering.NumberingRange, error) {
	var rng numbering.NumberingRange
	if err := r.db.WithContext(ctx).First(&rng, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rng, nil
}

// FindByIDForTenant finds a numbering range by ID within a tenant.
func (r *GormNumberingRangeRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*numbering.NumberingRange, error) {
	var rng numbering.NumberingRange
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&rng).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rng, nil
}

// FindByTenantAndType finds all ranges for a (tenant, document type).
func (r *GormNumberingRangeRepository) FindByTenantAndType(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType) ([]*numbering.NumberingRange, error) {
	var ranges []*numbering.NumberingRange
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ?", tenantID, docType).
		Order("valid_from ASC").
		Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// FindCoveringDate finds the ranges whose validity window contains the
// given date. The window comparison in SQL is widened to whole days; the
// domain re-checks the exact calendar-date rule after loading.
func (r *GormNumberingRangeRepository) FindCoveringDate(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType, date time.Time) ([]*numbering.NumberingRange, error) {
	return r.findCoveringDate(ctx, r.db, tenantID, docType, date)
}

// FindCoveringDateForUpdate is FindCoveringDate with row-level write locks.
func (r *GormNumberingRangeRepository) FindCoveringDateForUpdate(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType, date time.Time) ([]*numbering.NumberingRange, error) {
	return r.findCoveringDate(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, docType, date)
}

func (r *GormNumberingRangeRepository) findCoveringDate(ctx context.Context, db *gorm.DB, tenantID uuid.UUID, docType numbering.DocumentType, date time.Time) ([]*numbering.NumberingRange, error) {
	dayStart, dayEnd := dayBounds(date)

	var ranges []*numbering.NumberingRange
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND valid_from < ? AND valid_to >= ?",
			tenantID, docType, dayEnd, dayStart).
		Order("valid_from ASC").
		Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// FindOverlapping finds active ranges whose validity window intersects
// the given window.
func (r *GormNumberingRangeRepository) FindOverlapping(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType, from, to time.Time) ([]*numbering.NumberingRange, error) {
	fromStart, _ := dayBounds(from)
	_, toEnd := dayBounds(to)

	var ranges []*numbering.NumberingRange
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND is_active = ? AND valid_from < ? AND valid_to >= ?",
			tenantID, docType, true, toEnd, fromStart).
		Order("valid_from ASC").
		Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// FindAllForTenant lists a tenant's ranges.
func (r *GormNumberingRangeRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*numbering.NumberingRange, error) {
	var ranges []*numbering.NumberingRange
	query := applyFilter(
		r.db.WithContext(ctx).Model(&numbering.NumberingRange{}).Where("tenant_id = ?", tenantID),
		filter, NumberingRangeSortFields, "valid_from ASC",
	)

	if err := query.Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// Save creates or fully updates a range without a version check.
func (r *GormNumberingRangeRepository) Save(ctx context.Context, rng *numbering.NumberingRange) error {
	return r.db.WithContext(ctx).Save(rng).Error
}

// SaveWithLock persists the range's mutable state with an optimistic
// version check. The WHERE clause matches the version the aggregate was
// loaded at; zero affected rows means another writer committed first.
func (r *GormNumberingRangeRepository) SaveWithLock(ctx context.Context, rng *numbering.NumberingRange) error {
	result := r.db.WithContext(ctx).
		Model(rng).
		Where("id = ? AND version = ?", rng.ID, rng.Version-1).
		Updates(map[string]interface{}{
			"current_number": rng.CurrentNumber,
			"is_active":      rng.IsActive,
			"version":        rng.Version,
			"updated_at":     rng.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// dayBounds returns the half-open [start, end) interval of the calendar
// day containing t, in t's location.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.Add(24 * time.Hour)
}

// applyFilter applies pagination and ordering to a query. The sort field
// is checked against the entity's whitelist before it is spliced into the
// ORDER BY clause.
func applyFilter(query *gorm.DB, filter shared.Filter, allowedFields map[string]bool, defaultOrder string) *gorm.DB {
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	if field := ValidateSortField(filter.OrderBy, allowedFields); field != "" {
		return query.Order(field + " " + ValidateSortOrder(filter.OrderDir))
	}
	return query.Order(defaultOrder)
}

// Ensure GormNumberingRangeRepository implements NumberingRangeRepository
var _ numbering.NumberingRangeRepository = (*GormNumberingRangeRepository)(nil)
