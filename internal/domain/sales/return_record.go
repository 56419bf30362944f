package sales

import (
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnLine is one returned position, referencing the original sale line.
type ReturnLine struct {
	shared.BaseEntity
	ReturnID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	SaleLineID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the database table name.
func (ReturnLine) TableName() string {
	return "return_lines"
}

// ReturnRecord documents that goods from a sale came back and its
// allocations were reversed. When the return itself is a regulator-
// visible document (a credit note), DocumentNumber carries the number
// reserved for it.
type ReturnRecord struct {
	shared.TenantAggregateRoot
	SaleID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	DocumentNumber string          `gorm:"type:varchar(50);index"`
	ProcessedAt    time.Time       `gorm:"not null"`
	Lines          []ReturnLine    `gorm:"foreignKey:ReturnID;references:ID"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Reason         string          `gorm:"type:varchar(500)"`
	IdempotencyKey string          `gorm:"type:varchar(100);index"`
}

// TableName returns the database table name.
func (ReturnRecord) TableName() string {
	return "sale_returns"
}

// NewReturnRecord starts a return against a sale.
func NewReturnRecord(tenantID, saleID uuid.UUID, processedAt time.Time, reason string) (*ReturnRecord, error) {
	if saleID == uuid.Nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Return must reference a sale")
	}
	if processedAt.IsZero() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Return processing time is required")
	}
	return &ReturnRecord{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		SaleID:              saleID,
		ProcessedAt:         processedAt,
		TotalAmount:         decimal.Zero,
		Reason:              reason,
	}, nil
}

// AddLine appends a returned position and folds it into the total.
func (r *ReturnRecord) AddLine(saleLineID uuid.UUID, quantity, amount decimal.Decimal) (*ReturnLine, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Return quantity must be positive")
	}
	if amount.IsNegative() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Return amount cannot be negative")
	}

	line := ReturnLine{
		BaseEntity: shared.NewBaseEntity(),
		ReturnID:   r.ID,
		SaleLineID: saleLineID,
		Quantity:   quantity,
		Amount:     amount,
	}
	r.Lines = append(r.Lines, line)
	r.TotalAmount = r.TotalAmount.Add(amount)
	r.Touch()
	return &r.Lines[len(r.Lines)-1], nil
}

// AssignDocumentNumber records the credit-note number reserved for this
// return.
func (r *ReturnRecord) AssignDocumentNumber(number string) error {
	if r.DocumentNumber != "" {
		return shared.NewDomainError("VALIDATION_ERROR", "Return already carries document number "+r.DocumentNumber)
	}
	if number == "" {
		return shared.NewDomainError("VALIDATION_ERROR", "Document number cannot be empty")
	}
	r.DocumentNumber = number
	r.Touch()
	return nil
}
