package numbering

import (
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event names emitted by the numbering domain.
const (
	EventNumberReserved  = "numbering.number_reserved"
	EventRangeAuthorized = "numbering.range_authorized"
	EventRangeExhausting = "numbering.range_exhausting"
)

// NumberReservedEvent is emitted when a document number is issued.
type NumberReservedEvent struct {
	shared.BaseDomainEvent
	TenantID        uuid.UUID
	DocumentType    DocumentType
	SequenceNumber  int64
	FormattedNumber string
	Remaining       int64
}

// NewNumberReservedEvent creates the event for an issued number.
func NewNumberReservedEvent(r *NumberingRange, n int64, formatted string) NumberReservedEvent {
	return NumberReservedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventNumberReserved, r.ID),
		TenantID:        r.TenantID,
		DocumentType:    r.DocumentType,
		SequenceNumber:  n,
		FormattedNumber: formatted,
		Remaining:       r.RemainingCapacity(),
	}
}

// RangeAuthorizedEvent is emitted when a new range is registered.
type RangeAuthorizedEvent struct {
	shared.BaseDomainEvent
	TenantID     uuid.UUID
	DocumentType DocumentType
	RangeFrom    int64
	RangeTo      int64
	Fallback     bool
}

// NewRangeAuthorizedEvent creates the event for a newly registered range.
func NewRangeAuthorizedEvent(r *NumberingRange) RangeAuthorizedEvent {
	return RangeAuthorizedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventRangeAuthorized, r.ID),
		TenantID:        r.TenantID,
		DocumentType:    r.DocumentType,
		RangeFrom:       r.RangeFrom,
		RangeTo:         r.RangeTo,
		Fallback:        r.Fallback,
	}
}
