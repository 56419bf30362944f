package numbering

import (
	"fmt"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// NumberingRange is an authority-authorized block of sequential document
// numbers for one document type, valid inside a date window. It is the
// only source of regulator-visible numbers: issued numbers must form a
// contiguous, strictly increasing sequence with no duplicate and no gap.
//
// CurrentNumber is the last number issued; it starts at RangeFrom-1 and
// only ever moves forward through ReserveNext. All other fields are fixed
// at authorization time.
type NumberingRange struct {
	shared.TenantAggregateRoot
	DocumentType        DocumentType `gorm:"type:varchar(20);not null;index:idx_numbering_range_document_type"`
	Prefix              string       `gorm:"type:varchar(10)"` // optional, e.g. "FAC"
	AuthorizationNumber string       `gorm:"type:varchar(50)"` // identifier on the authority's resolution
	AuthorizationDate   time.Time    `gorm:"not null"`
	ValidFrom           time.Time    `gorm:"not null"`
	ValidTo             time.Time    `gorm:"not null"`
	RangeFrom           int64        `gorm:"not null"`
	RangeTo             int64        `gorm:"not null"`
	CurrentNumber       int64        `gorm:"not null"`
	IsActive            bool         `gorm:"not null;default:true"`
	Fallback            bool         `gorm:"not null;default:false"` // true for auto-provisioned non-production ranges
}

// TableName returns the database table name.
func (NumberingRange) TableName() string {
	return "numbering_ranges"
}

// NewNumberingRange creates an authorized range. The first ReserveNext
// call will issue RangeFrom.
func NewNumberingRange(
	tenantID uuid.UUID,
	docType DocumentType,
	prefix string,
	authorizationNumber string,
	authorizationDate time.Time,
	validFrom, validTo time.Time,
	rangeFrom, rangeTo int64,
) (*NumberingRange, error) {
	if !docType.IsValid() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Unknown document type: "+string(docType))
	}
	if rangeFrom < 1 {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Range lower bound must be at least 1")
	}
	if rangeTo < rangeFrom {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Range upper bound must not precede lower bound")
	}
	if validTo.Before(validFrom) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Validity window end must not precede its start")
	}

	return &NumberingRange{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		DocumentType:        docType,
		Prefix:              prefix,
		AuthorizationNumber: authorizationNumber,
		AuthorizationDate:   authorizationDate,
		ValidFrom:           validFrom,
		ValidTo:             validTo,
		RangeFrom:           rangeFrom,
		RangeTo:             rangeTo,
		CurrentNumber:       rangeFrom - 1,
		IsActive:            true,
	}, nil
}

// CoversDate reports whether the validity window contains the given
// date. Both window bounds are inclusive and compared by calendar date.
func (r *NumberingRange) CoversDate(t time.Time) bool {
	return shared.SameOrAfterDay(t, r.ValidFrom) && shared.SameOrAfterDay(r.ValidTo, t)
}

// IsExhausted reports whether every number in the range has been issued.
func (r *NumberingRange) IsExhausted() bool {
	return r.CurrentNumber >= r.RangeTo
}

// RemainingCapacity returns how many numbers the range can still issue.
func (r *NumberingRange) RemainingCapacity() int64 {
	return r.RangeTo - r.CurrentNumber
}

// ReserveNext issues the next number from the range. On any failure the
// range is left untouched; CurrentNumber advances only on success. The
// caller must persist the range with a version check so that two
// concurrent reservations can never commit the same number.
func (r *NumberingRange) ReserveNext(today time.Time) (string, error) {
	if !r.IsActive {
		return "", shared.ErrRangeInactive
	}
	if !r.CoversDate(today) {
		return "", shared.ErrNoActiveRange
	}
	next := r.CurrentNumber + 1
	if next > r.RangeTo {
		return "", shared.ErrRangeExhausted
	}

	r.CurrentNumber = next
	r.IncrementVersion()
	r.Touch()
	formatted := r.FormatNumber(next)
	r.AddDomainEvent(NewNumberReservedEvent(r, next, formatted))
	return formatted, nil
}

// FormatNumber renders a raw sequence number the way it appears on the
// document: the prefix (when present), a dash, and the number zero-padded
// to eight digits.
func (r *NumberingRange) FormatNumber(n int64) string {
	if r.Prefix == "" {
		return fmt.Sprintf("%08d", n)
	}
	return fmt.Sprintf("%s-%08d", r.Prefix, n)
}

// Deactivate takes the range out of service. Numbers already issued stay
// valid; no further numbers are minted from it.
func (r *NumberingRange) Deactivate() {
	if !r.IsActive {
		return
	}
	r.IsActive = false
	r.IncrementVersion()
	r.Touch()
}

// Activate puts the range back in service.
func (r *NumberingRange) Activate() {
	if r.IsActive {
		return
	}
	r.IsActive = true
	r.IncrementVersion()
	r.Touch()
}

// Overlaps reports whether this range's validity window intersects the
// given window. Used at creation time to enforce that at most one active
// range per (tenant, document type) matches any date.
func (r *NumberingRange) Overlaps(from, to time.Time) bool {
	return shared.SameOrAfterDay(r.ValidTo, from) && shared.SameOrAfterDay(to, r.ValidFrom)
}

// SelectRange picks the range whose validity window contains today from a
// set of candidates for one (tenant, document type). Zero covering ranges
// yield NO_ACTIVE_RANGE; covering ranges that have all been deactivated
// yield RANGE_INACTIVE. When ranges overlap despite the creation-time
// uniqueness rule, the earliest ValidFrom wins so the choice stays
// deterministic.
func SelectRange(ranges []*NumberingRange, today time.Time) (*NumberingRange, error) {
	var selected *NumberingRange
	covering := false
	for _, r := range ranges {
		if !r.CoversDate(today) {
			continue
		}
		covering = true
		if !r.IsActive {
			continue
		}
		if selected == nil || r.ValidFrom.Before(selected.ValidFrom) {
			selected = r
		}
	}
	if selected == nil {
		if covering {
			return nil, shared.ErrRangeInactive
		}
		return nil, shared.ErrNoActiveRange
	}
	return selected, nil
}
