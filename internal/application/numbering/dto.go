package numbering

import (
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// CreateRangeCommand registers an authority-approved numbering range.
type CreateRangeCommand struct {
	TenantID            uuid.UUID `validate:"required"`
	DocumentType        string    `validate:"required,oneof=INVOICE CREDIT_NOTE DEBIT_NOTE TICKET"`
	Prefix              string    `validate:"omitempty,max=10"`
	AuthorizationNumber string    `validate:"required,max=64"`
	AuthorizationDate   time.Time `validate:"required"`
	ValidFrom           time.Time `validate:"required"`
	ValidTo             time.Time `validate:"required"`
	RangeFrom           int64     `validate:"required,min=1"`
	RangeTo             int64     `validate:"required,min=1"`
}

// Validate checks the command's shape. Cross-field rules beyond what the
// struct tags express (window and bound ordering) are enforced by the
// domain constructor.
func (c CreateRangeCommand) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.NewDomainError("VALIDATION_ERROR", err.Error())
	}
	return nil
}
