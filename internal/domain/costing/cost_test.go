package costing

import (
	"testing"

	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func alloc(qty, cost string) *stock.Allocation {
	return stock.NewAllocation(uuid.New(), uuid.New(), uuid.New(),
		decimal.RequireFromString(qty), decimal.RequireFromString(cost))
}

func TestItemCost(t *testing.T) {
	t.Run("sums allocation costs", func(t *testing.T) {
		allocations := []*stock.Allocation{alloc("5", "10.00"), alloc("2", "12.00")}
		assert.True(t, ItemCost(allocations).Equal(decimal.RequireFromString("74.00")))
	})

	t.Run("no allocations cost nothing", func(t *testing.T) {
		assert.True(t, ItemCost(nil).IsZero())
	})

	t.Run("fractional quantities keep exact decimals", func(t *testing.T) {
		allocations := []*stock.Allocation{alloc("0.5", "3.33"), alloc("1.25", "2.40")}
		assert.True(t, ItemCost(allocations).Equal(decimal.RequireFromString("4.665")))
	})
}

func TestSaleCost(t *testing.T) {
	lineA := []*stock.Allocation{alloc("5", "10.00")}
	lineB := []*stock.Allocation{alloc("2", "12.00"), alloc("1", "11.00")}

	t.Run("equals the sum of its line costs", func(t *testing.T) {
		got := SaleCost([][]*stock.Allocation{lineA, lineB})
		want := ItemCost(lineA).Add(ItemCost(lineB))
		assert.True(t, got.Equal(want))
		assert.True(t, got.Equal(decimal.RequireFromString("85.00")))
	})

	t.Run("empty sale costs nothing", func(t *testing.T) {
		assert.True(t, SaleCost(nil).IsZero())
	})
}

func TestGrossProfit(t *testing.T) {
	assert.True(t, GrossProfit(
		decimal.RequireFromString("100.00"),
		decimal.RequireFromString("74.00"),
	).Equal(decimal.RequireFromString("26.00")))

	t.Run("selling below cost is a loss", func(t *testing.T) {
		assert.True(t, GrossProfit(
			decimal.RequireFromString("50.00"),
			decimal.RequireFromString("74.00"),
		).Equal(decimal.RequireFromString("-24.00")))
	})
}

func TestMargin(t *testing.T) {
	t.Run("profit over total times one hundred", func(t *testing.T) {
		got := Margin(decimal.RequireFromString("100.00"), decimal.RequireFromString("74.00"))
		assert.True(t, got.Equal(decimal.RequireFromString("26")))
	})

	t.Run("rounds to four decimal places", func(t *testing.T) {
		got := Margin(decimal.RequireFromString("3.00"), decimal.RequireFromString("1.00"))
		assert.True(t, got.Equal(decimal.RequireFromString("66.6667")))
	})

	t.Run("zero total yields zero margin, not a division error", func(t *testing.T) {
		got := Margin(decimal.Zero, decimal.RequireFromString("74.00"))
		assert.True(t, got.IsZero())
	})

	t.Run("negative margin on losses", func(t *testing.T) {
		got := Margin(decimal.RequireFromString("50.00"), decimal.RequireFromString("74.00"))
		assert.True(t, got.Equal(decimal.RequireFromString("-48")))
	})
}
