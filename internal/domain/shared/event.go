package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is something that happened in the domain that collaborators
// may care about. Events are buffered on the aggregate and drained by the
// application layer after the surrounding transaction commits.
type DomainEvent interface {
	// EventName returns the event's stable name, e.g. "numbering.number_reserved".
	EventName() string
	// AggregateID identifies the aggregate the event originated from.
	AggregateID() uuid.UUID
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
}

// BaseDomainEvent carries the fields every event shares.
type BaseDomainEvent struct {
	Name        string
	Aggregate   uuid.UUID
	OccurredUTC time.Time
}

// NewBaseDomainEvent creates the shared portion of a domain event.
func NewBaseDomainEvent(name string, aggregateID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		Name:        name,
		Aggregate:   aggregateID,
		OccurredUTC: time.Now().UTC(),
	}
}

// EventName returns the event's stable name.
func (e BaseDomainEvent) EventName() string { return e.Name }

// AggregateID identifies the originating aggregate.
func (e BaseDomainEvent) AggregateID() uuid.UUID { return e.Aggregate }

// OccurredAt returns when the event happened.
func (e BaseDomainEvent) OccurredAt() time.Time { return e.OccurredUTC }
