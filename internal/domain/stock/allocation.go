package stock

import (
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation links a sold quantity to the specific lot it was drawn
// from, fixing the cost basis of that portion of the sale. Quantity and
// cost fields are immutable once created. A return compensates on the
// lot's remaining quantity and flips the Reversed marker here, so the
// audit trail of what was originally sold at what cost survives.
type Allocation struct {
	shared.BaseEntity
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	SaleLineID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	LotID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	QuantityTaken decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(18,4);not null"` // snapshot of the lot's cost at allocation time
	TotalCost     decimal.Decimal `gorm:"type:decimal(18,4);not null"` // QuantityTaken * UnitCost
	Reversed      bool            `gorm:"not null;default:false"`
	ReversedAt    *time.Time
}

// TableName returns the database table name.
func (Allocation) TableName() string {
	return "stock_allocations"
}

// NewAllocation records that quantity was taken from a lot for a sale line.
func NewAllocation(tenantID, saleLineID, lotID uuid.UUID, quantityTaken, unitCost decimal.Decimal) *Allocation {
	return &Allocation{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      tenantID,
		SaleLineID:    saleLineID,
		LotID:         lotID,
		QuantityTaken: quantityTaken,
		UnitCost:      unitCost,
		TotalCost:     quantityTaken.Mul(unitCost),
	}
}

// MarkReversed flags the allocation as returned. Reversing twice is an
// OVER_RETURN: the units already went back to the lot once.
func (a *Allocation) MarkReversed(at time.Time) error {
	if a.Reversed {
		return shared.ErrOverReturn
	}
	a.Reversed = true
	a.ReversedAt = &at
	a.Touch()
	return nil
}
