package stock

import (
	"context"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// LotRepository defines persistence for stock lots.
//
// FindAllocatable returns candidates in the same deterministic FIFO
// order the planner uses (entry date ascending, lot ID ascending) so
// that query-level and in-memory ordering never disagree. The ForUpdate
// variant additionally takes row locks and is only meaningful inside a
// database transaction.
type LotRepository interface {
	// FindByID finds a lot by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Lot, error)

	// FindByIDForTenant finds a lot by ID within a tenant.
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Lot, error)

	// FindByIDs finds multiple lots within a tenant.
	FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Lot, error)

	// FindAllocatable finds a product's lots with remaining stock in FIFO order.
	FindAllocatable(ctx context.Context, tenantID, productID uuid.UUID) ([]*Lot, error)

	// FindAllocatableForUpdate is FindAllocatable with row-level write locks.
	FindAllocatableForUpdate(ctx context.Context, tenantID, productID uuid.UUID) ([]*Lot, error)

	// FindByIDsForUpdate finds lots by ID with row-level write locks.
	FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Lot, error)

	// FindByProduct lists all of a product's lots, consumed or not.
	FindByProduct(ctx context.Context, tenantID, productID uuid.UUID, filter shared.Filter) ([]*Lot, error)

	// FindExpiringBefore lists lots with remaining stock expiring before the deadline.
	FindExpiringBefore(ctx context.Context, tenantID uuid.UUID, deadline time.Time, filter shared.Filter) ([]*Lot, error)

	// Save creates or fully updates a lot without a version check.
	Save(ctx context.Context, lot *Lot) error

	// SaveWithLock persists the lot's remaining quantity with an optimistic
	// version check, returning CONCURRENCY_CONFLICT on a stale version.
	SaveWithLock(ctx context.Context, lot *Lot) error
}

// AllocationRepository defines persistence for allocation records. Rows
// are append-only in their quantity and cost fields; the only update is
// flipping the Reversed marker during return processing.
type AllocationRepository interface {
	// FindByID finds an allocation by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Allocation, error)

	// FindBySaleLine finds all allocations for a sale line.
	FindBySaleLine(ctx context.Context, tenantID, saleLineID uuid.UUID) ([]*Allocation, error)

	// FindBySaleLines finds allocations for multiple sale lines.
	FindBySaleLines(ctx context.Context, tenantID uuid.UUID, saleLineIDs []uuid.UUID) ([]*Allocation, error)

	// FindByLot finds all allocations drawn from a lot.
	FindByLot(ctx context.Context, tenantID, lotID uuid.UUID) ([]*Allocation, error)

	// CreateBatch persists new allocation records.
	CreateBatch(ctx context.Context, allocations []*Allocation) error

	// MarkReversed persists the reversed marker for the given allocations.
	MarkReversed(ctx context.Context, allocations []*Allocation) error
}
