package numbering

import (
	"context"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// NumberingRangeRepository defines persistence for numbering ranges.
//
// A range's CurrentNumber is the one piece of hot shared state in this
// domain. SaveWithLock performs a version compare-and-swap and reports
// CONCURRENCY_CONFLICT when another writer got there first; callers that
// run inside a database transaction can instead take a row lock up front
// with FindCoveringDateForUpdate.
type NumberingRangeRepository interface {
	// FindByID finds a range by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*NumberingRange, error)

	// FindByIDForTenant finds a range by ID within a tenant.
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*NumberingRange, error)

	// FindByTenantAndType finds all ranges for a (tenant, document type).
	FindByTenantAndType(ctx context.Context, tenantID uuid.UUID, docType DocumentType) ([]*NumberingRange, error)

	// FindCoveringDate finds the ranges for (tenant, document type) whose
	// validity window contains the given date.
	FindCoveringDate(ctx context.Context, tenantID uuid.UUID, docType DocumentType, date time.Time) ([]*NumberingRange, error)

	// FindCoveringDateForUpdate is FindCoveringDate with a row-level
	// write lock. Only meaningful inside a database transaction.
	FindCoveringDateForUpdate(ctx context.Context, tenantID uuid.UUID, docType DocumentType, date time.Time) ([]*NumberingRange, error)

	// FindOverlapping finds active ranges for (tenant, document type)
	// whose validity window intersects the given window. Used to enforce
	// the at-most-one-active-range rule at creation time.
	FindOverlapping(ctx context.Context, tenantID uuid.UUID, docType DocumentType, from, to time.Time) ([]*NumberingRange, error)

	// FindAllForTenant lists a tenant's ranges.
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*NumberingRange, error)

	// Save creates or fully updates a range without a version check.
	Save(ctx context.Context, r *NumberingRange) error

	// SaveWithLock persists the range's mutable state with an optimistic
	// version check, returning CONCURRENCY_CONFLICT on a stale version.
	SaveWithLock(ctx context.Context, r *NumberingRange) error
}
