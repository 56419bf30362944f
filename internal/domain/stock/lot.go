package stock

import (
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is a discrete batch of stock received at a given cost on a given
// date, consumed oldest-first. RemainingQuantity is the only mutable
// field and always satisfies 0 <= remaining <= Quantity; it moves down
// through Take during allocation and back up through Restore during
// return reversal. A lot is never deleted while an allocation still
// references it.
type Lot struct {
	shared.TenantAggregateRoot
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_lot_product"`
	ReceiptRef        string          `gorm:"type:varchar(100)"` // originating purchase receipt line
	Quantity          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	EntryDate         time.Time       `gorm:"not null;index"`
	ExpirationDate    *time.Time      `gorm:"index"`
	Notes             string          `gorm:"type:varchar(500)"`
}

// TableName returns the database table name.
func (Lot) TableName() string {
	return "stock_lots"
}

// NewLot creates a lot from a purchase receipt line with all of its
// quantity still available.
func NewLot(
	tenantID, productID uuid.UUID,
	receiptRef string,
	quantity, unitCost decimal.Decimal,
	entryDate time.Time,
	expirationDate *time.Time,
	notes string,
) (*Lot, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Lot quantity must be positive")
	}
	if unitCost.IsNegative() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Lot unit cost cannot be negative")
	}
	if entryDate.IsZero() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Lot entry date is required")
	}

	return &Lot{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ProductID:           productID,
		ReceiptRef:          receiptRef,
		Quantity:            quantity,
		RemainingQuantity:   quantity,
		UnitCost:            unitCost,
		EntryDate:           entryDate,
		ExpirationDate:      expirationDate,
		Notes:               notes,
	}, nil
}

// HasStock reports whether the lot still has quantity to allocate.
func (l *Lot) HasStock() bool {
	return l.RemainingQuantity.GreaterThan(decimal.Zero)
}

// IsExpired reports whether the lot has passed its expiration date as of
// the given instant. Expiration is advisory: expired lots still take part
// in FIFO allocation unless the exclusion policy is switched on.
func (l *Lot) IsExpired(asOf time.Time) bool {
	if l.ExpirationDate == nil {
		return false
	}
	return l.ExpirationDate.Before(asOf)
}

// ConsumedQuantity returns how much of the lot has been allocated.
func (l *Lot) ConsumedQuantity() decimal.Decimal {
	return l.Quantity.Sub(l.RemainingQuantity)
}

// RemainingValue returns the cost value of the unallocated quantity.
func (l *Lot) RemainingValue() decimal.Decimal {
	return l.RemainingQuantity.Mul(l.UnitCost)
}

// Take removes quantity from the lot for a sale allocation. Unlike a
// best-effort deduction, Take is exact: asking for more than remains is
// an INSUFFICIENT_STOCK error and leaves the lot untouched.
func (l *Lot) Take(quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("VALIDATION_ERROR", "Take quantity must be positive")
	}
	if quantity.GreaterThan(l.RemainingQuantity) {
		return shared.ErrInsufficientStock
	}
	l.RemainingQuantity = l.RemainingQuantity.Sub(quantity)
	l.IncrementVersion()
	l.Touch()
	return nil
}

// Restore puts quantity back after a return, capped at the lot's
// original quantity. Pushing remaining past the original quantity means
// more units came back than were ever sold from this lot: OVER_RETURN.
func (l *Lot) Restore(quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("VALIDATION_ERROR", "Restore quantity must be positive")
	}
	restored := l.RemainingQuantity.Add(quantity)
	if restored.GreaterThan(l.Quantity) {
		return shared.ErrOverReturn
	}
	l.RemainingQuantity = restored
	l.IncrementVersion()
	l.Touch()
	return nil
}
