package stock

import (
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the lot allocation domain service. It turns FIFO plans into
// exact mutations of the lots a sale draws from, and reverses those
// mutations on return. All methods are all-or-nothing over the lots they
// touch: on any error no lot has been changed.
//
// The ledger works on aggregates already loaded by the caller and does
// not persist anything itself; the application layer controls the
// transaction boundary and saves the mutated lots with a version check.
type Ledger struct {
	policy OutboundPolicy
}

// LedgerOption is a functional option for configuring the Ledger.
type LedgerOption func(*Ledger)

// WithExpiredLotExclusion makes the ledger skip expired lots during FIFO
// selection. Off by default.
func WithExpiredLotExclusion(exclude bool) LedgerOption {
	return func(l *Ledger) {
		l.policy.ExcludeExpired = exclude
	}
}

// NewLedger creates a lot ledger with the given options.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the ledger's outbound policy.
func (l *Ledger) Policy() OutboundPolicy {
	return l.policy
}

// AllocateForSale draws the requested quantity for one sale line from
// the given lots in FIFO order. It returns one allocation record per lot
// touched, with the lot's cost snapshotted. If the lots cannot cover the
// request the call fails with INSUFFICIENT_STOCK and no lot is mutated.
func (l *Ledger) AllocateForSale(
	tenantID, saleLineID uuid.UUID,
	requested decimal.Decimal,
	lots []*Lot,
	asOf time.Time,
) ([]*Allocation, error) {
	snapshot := make([]Lot, len(lots))
	for i, lot := range lots {
		snapshot[i] = *lot
	}

	plan, err := PlanFIFO(requested, snapshot, l.policy, asOf)
	if err != nil {
		return nil, err
	}
	if !plan.Fulfilled {
		return nil, shared.ErrInsufficientStock
	}

	byID := make(map[uuid.UUID]*Lot, len(lots))
	for _, lot := range lots {
		byID[lot.ID] = lot
	}

	allocations := make([]*Allocation, 0, len(plan.Deductions))
	for _, d := range plan.Deductions {
		lot, ok := byID[d.LotID]
		if !ok {
			return nil, shared.NewDomainError("LOT_NOT_FOUND", "Planned lot not present: "+d.LotID.String())
		}
		if err := lot.Take(d.Taken); err != nil {
			// The plan was computed from these very lots; a failing Take
			// means they changed underneath us.
			return nil, shared.ErrConcurrencyConflict
		}
		allocations = append(allocations, NewAllocation(tenantID, saleLineID, lot.ID, d.Taken, d.UnitCost))
	}
	return allocations, nil
}

// ReverseAllocations undoes a set of allocations for a return, restoring
// each referenced lot's remaining quantity by the quantity originally
// taken. Reversing an allocation twice, or restoring past a lot's
// original quantity, fails with OVER_RETURN before anything is mutated.
func (l *Ledger) ReverseAllocations(
	allocations []*Allocation,
	lots map[uuid.UUID]*Lot,
	asOf time.Time,
) error {
	if len(allocations) == 0 {
		return shared.NewDomainError("VALIDATION_ERROR", "At least one allocation is required for reversal")
	}

	// Validate the whole set before touching any lot. Restores against
	// the same lot accumulate, so the cap check runs on projected values.
	projected := make(map[uuid.UUID]decimal.Decimal, len(lots))
	for _, a := range allocations {
		if a.Reversed {
			return shared.ErrOverReturn
		}
		lot, ok := lots[a.LotID]
		if !ok {
			return shared.NewDomainError("LOT_NOT_FOUND", "Allocation references missing lot: "+a.LotID.String())
		}
		next, seen := projected[a.LotID]
		if !seen {
			next = lot.RemainingQuantity
		}
		next = next.Add(a.QuantityTaken)
		if next.GreaterThan(lot.Quantity) {
			return shared.ErrOverReturn
		}
		projected[a.LotID] = next
	}

	for _, a := range allocations {
		lot := lots[a.LotID]
		if err := lot.Restore(a.QuantityTaken); err != nil {
			return err
		}
		if err := a.MarkReversed(asOf); err != nil {
			return err
		}
	}
	return nil
}

// AvailableQuantity sums the remaining quantity over the given lots,
// honoring the ledger's expired-lot policy.
func (l *Ledger) AvailableQuantity(lots []Lot, asOf time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		if l.policy.ExcludeExpired && lot.IsExpired(asOf) {
			continue
		}
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}
