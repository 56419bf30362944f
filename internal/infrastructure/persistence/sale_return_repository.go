package persistence

import (
	"context"
	"errors"

	"github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormReturnRepository implements ReturnRepository using GORM.
type GormReturnRepository struct {
	db *gorm.DB
}

// NewGormReturnRepository creates a new GormReturnRepository.
func NewGormReturnRepository(db *gorm.DB) *GormReturnRepository {
	return &GormReturnRepository{db: db}
}

// FindByID loads a return with its lines within a tenant.
func (r *GormReturnRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*sales.ReturnRecord, error) {
	var record sales.ReturnRecord
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindBySale lists the returns recorded against a sale, oldest first.
func (r *GormReturnRepository) FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]*sales.ReturnRecord, error) {
	var records []*sales.ReturnRecord
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("tenant_id = ? AND sale_id = ?", tenantID, saleID).
		Order("processed_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Create persists a new return together with its lines.
func (r *GormReturnRepository) Create(ctx context.Context, record *sales.ReturnRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// Ensure GormReturnRepository implements ReturnRepository
var _ sales.ReturnRepository = (*GormReturnRepository)(nil)
