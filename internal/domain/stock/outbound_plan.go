package stock

import (
	"sort"
	"strings"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutboundPolicy tunes lot selection. ExcludeExpired drops expired lots
// from FIFO candidates; it defaults to off because expiration is
// advisory metadata in this system.
type OutboundPolicy struct {
	ExcludeExpired bool
}

// LotDeduction is one planned draw against a single lot.
type LotDeduction struct {
	LotID          uuid.UUID
	Taken          decimal.Decimal
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	RemainingAfter decimal.Decimal
	FullyConsumed  bool
}

// OutboundPlan is the complete result of planning a FIFO draw. Planning
// is pure: no lot is mutated until the plan is applied.
type OutboundPlan struct {
	Deductions []LotDeduction
	TotalTaken decimal.Decimal
	TotalCost  decimal.Decimal
	Shortfall  decimal.Decimal
	Fulfilled  bool
}

// PlanFIFO computes which lots a sale line draws from and how much from
// each. Candidates are the lots with remaining stock, walked in
// deterministic FIFO order: entry date ascending, lot ID ascending on
// ties. Each lot contributes min(remaining, still needed) until the
// request is covered; when the candidates cannot cover it the plan
// reports the shortfall and Fulfilled=false so the caller can refuse the
// whole draw without touching any lot.
func PlanFIFO(requested decimal.Decimal, lots []Lot, policy OutboundPolicy, asOf time.Time) (*OutboundPlan, error) {
	if requested.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Requested quantity must be positive")
	}

	candidates := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if !lot.HasStock() {
			continue
		}
		if policy.ExcludeExpired && lot.IsExpired(asOf) {
			continue
		}
		candidates = append(candidates, lot)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EntryDate.Equal(candidates[j].EntryDate) {
			return candidates[i].EntryDate.Before(candidates[j].EntryDate)
		}
		return strings.Compare(candidates[i].ID.String(), candidates[j].ID.String()) < 0
	})

	plan := &OutboundPlan{
		Deductions: make([]LotDeduction, 0, len(candidates)),
		TotalTaken: decimal.Zero,
		TotalCost:  decimal.Zero,
	}

	remaining := requested
	for _, lot := range candidates {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, lot.RemainingQuantity)
		remainingAfter := lot.RemainingQuantity.Sub(take)
		cost := take.Mul(lot.UnitCost)

		plan.Deductions = append(plan.Deductions, LotDeduction{
			LotID:          lot.ID,
			Taken:          take,
			UnitCost:       lot.UnitCost,
			TotalCost:      cost,
			RemainingAfter: remainingAfter,
			FullyConsumed:  remainingAfter.IsZero(),
		})
		plan.TotalTaken = plan.TotalTaken.Add(take)
		plan.TotalCost = plan.TotalCost.Add(cost)
		remaining = remaining.Sub(take)
	}

	plan.Shortfall = remaining
	plan.Fulfilled = remaining.IsZero()
	return plan, nil
}

// WeightedAverageCost returns the plan's cost per unit taken, rounded to
// four decimal places. Zero when nothing is taken.
func (p *OutboundPlan) WeightedAverageCost() decimal.Decimal {
	if p.TotalTaken.IsZero() {
		return decimal.Zero
	}
	return p.TotalCost.Div(p.TotalTaken).Round(4)
}
