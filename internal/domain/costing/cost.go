// Package costing derives cost of goods sold, gross profit and margin
// from persisted lot allocations. Everything here is a pure function
// over values the caller already loaded: no clock, no repository, no
// configuration. Monetary amounts use decimal arithmetic throughout.
package costing

import (
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/shopspring/decimal"
)

// ItemCost sums the cost of the allocations backing one sale line.
// Each allocation contributes QuantityTaken times the unit cost
// snapshotted from its lot at sale time.
func ItemCost(allocations []*stock.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.TotalCost)
	}
	return total
}

// SaleCost sums the line costs of a whole sale. It equals ItemCost over
// the concatenation of every line's allocations.
func SaleCost(lineAllocations [][]*stock.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, allocations := range lineAllocations {
		total = total.Add(ItemCost(allocations))
	}
	return total
}

// GrossProfit is the sale's final total minus its cost of goods sold.
// Negative when goods sold below cost.
func GrossProfit(finalTotal, saleCost decimal.Decimal) decimal.Decimal {
	return finalTotal.Sub(saleCost)
}

// Margin is gross profit as a percentage of the final total, rounded to
// four decimal places. A zero-total sale has zero margin rather than a
// division error; free giveaways have no margin to speak of.
func Margin(finalTotal, saleCost decimal.Decimal) decimal.Decimal {
	if finalTotal.IsZero() {
		return decimal.Zero
	}
	return GrossProfit(finalTotal, saleCost).
		Div(finalTotal).
		Mul(decimal.NewFromInt(100)).
		Round(4)
}
