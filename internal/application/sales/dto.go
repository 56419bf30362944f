package sales

import (
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// SaleLineInput is one product position on a sale request.
type SaleLineInput struct {
	ProductID uuid.UUID `validate:"required"`
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// ProcessSaleCommand finalizes a sale in one atomic unit.
type ProcessSaleCommand struct {
	TenantID       uuid.UUID       `validate:"required"`
	DocumentType   string          `validate:"required,oneof=INVOICE CREDIT_NOTE DEBIT_NOTE TICKET"`
	Lines          []SaleLineInput `validate:"required,min=1,dive"`
	IdempotencyKey string          `validate:"omitempty,max=128"`
}

// Validate checks the command's shape. Decimal bounds are checked by
// hand since the validator cannot look inside decimal.Decimal.
func (c ProcessSaleCommand) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.NewDomainError("VALIDATION_ERROR", err.Error())
	}
	for _, line := range c.Lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewDomainError("VALIDATION_ERROR", "Sale line quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return shared.NewDomainError("VALIDATION_ERROR", "Sale line unit price cannot be negative")
		}
	}
	return nil
}

// ReturnLineInput identifies an original sale line and how much of it
// comes back.
type ReturnLineInput struct {
	SaleLineID uuid.UUID `validate:"required"`
	Quantity   decimal.Decimal
}

// ProcessReturnCommand reverses part or all of a sale in one atomic unit.
type ProcessReturnCommand struct {
	TenantID        uuid.UUID         `validate:"required"`
	SaleID          uuid.UUID         `validate:"required"`
	Lines           []ReturnLineInput `validate:"required,min=1,dive"`
	Reason          string            `validate:"omitempty,max=500"`
	IssueCreditNote bool
	IdempotencyKey  string `validate:"omitempty,max=128"`
}

// Validate checks the command's shape.
func (c ProcessReturnCommand) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.NewDomainError("VALIDATION_ERROR", err.Error())
	}
	for _, line := range c.Lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewDomainError("VALIDATION_ERROR", "Return line quantity must be positive")
		}
	}
	return nil
}

// SaleResult reports what a completed sale produced.
type SaleResult struct {
	SaleID         uuid.UUID
	DocumentNumber string
	FinalTotal     decimal.Decimal
	TotalCost      decimal.Decimal
	GrossProfit    decimal.Decimal
	Margin         decimal.Decimal
}

// ReturnResult reports what a completed return produced.
type ReturnResult struct {
	ReturnID       uuid.UUID
	DocumentNumber string
	TotalAmount    decimal.Decimal
	ReversedLots   int
}
