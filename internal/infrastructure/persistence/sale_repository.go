package persistence

import (
	"context"
	"errors"

	"github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSaleRepository implements SaleRepository using GORM.
type GormSaleRepository struct {
	db *gorm.DB
}

// NewGormSaleRepository creates a new GormSaleRepository.
func NewGormSaleRepository(db *gorm.DB) *GormSaleRepository {
	return &GormSaleRepository{db: db}
}

// FindByID loads a sale with its lines within a tenant.
func (r *GormSaleRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error) {
	var sale sales.Sale
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// FindByDocumentNumber loads a sale by its assigned number.
func (r *GormSaleRepository) FindByDocumentNumber(ctx context.Context, tenantID uuid.UUID, documentNumber string) (*sales.Sale, error) {
	var sale sales.Sale
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND document_number = ?", tenantID, documentNumber).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// FindAll lists a tenant's sales, newest first.
func (r *GormSaleRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*sales.Sale, error) {
	var results []*sales.Sale
	query := applyFilter(
		r.db.WithContext(ctx).Model(&sales.Sale{}).
			Preload("Lines").
			Where("tenant_id = ?", tenantID),
		filter, SaleSortFields, "issued_at DESC",
	)

	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Create persists a new sale together with its lines.
func (r *GormSaleRepository) Create(ctx context.Context, sale *sales.Sale) error {
	return r.db.WithContext(ctx).Create(sale).Error
}

// Save updates a sale's mutable state. Lines are immutable once created
// and are deliberately not written here.
func (r *GormSaleRepository) Save(ctx context.Context, sale *sales.Sale) error {
	return r.db.WithContext(ctx).
		Model(sale).
		Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"document_number": sale.DocumentNumber,
			"total_cost":      sale.TotalCost,
			"status":          sale.Status,
			"version":         sale.Version,
			"updated_at":      sale.UpdatedAt,
		}).Error
}

// Ensure GormSaleRepository implements SaleRepository
var _ sales.SaleRepository = (*GormSaleRepository)(nil)
