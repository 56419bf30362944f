package sales

import (
	"context"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// SaleRepository defines persistence for sale documents and their lines.
type SaleRepository interface {
	// FindByID loads a sale with its lines within a tenant.
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Sale, error)

	// FindByDocumentNumber loads a sale by its assigned number.
	FindByDocumentNumber(ctx context.Context, tenantID uuid.UUID, documentNumber string) (*Sale, error)

	// FindAll lists a tenant's sales, newest first.
	FindAll(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*Sale, error)

	// Create persists a new sale together with its lines.
	Create(ctx context.Context, sale *Sale) error

	// Save updates a sale's mutable state (status, cost).
	Save(ctx context.Context, sale *Sale) error
}

// ReturnRepository defines persistence for return records.
type ReturnRepository interface {
	// FindByID loads a return with its lines within a tenant.
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ReturnRecord, error)

	// FindBySale lists the returns recorded against a sale.
	FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]*ReturnRecord, error)

	// Create persists a new return together with its lines.
	Create(ctx context.Context, record *ReturnRecord) error
}
