package stock

import (
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event names emitted by the stock domain.
const (
	EventLotReceived  = "stock.lot_received"
	EventLotDepleted  = "stock.lot_depleted"
	EventLotsRestored = "stock.lots_restored"
)

// LotReceivedEvent is emitted when a purchase receipt line becomes a lot.
type LotReceivedEvent struct {
	shared.BaseDomainEvent
	TenantID  uuid.UUID
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
}

// NewLotReceivedEvent creates the event for a newly received lot.
func NewLotReceivedEvent(l *Lot) LotReceivedEvent {
	return LotReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventLotReceived, l.ID),
		TenantID:        l.TenantID,
		ProductID:       l.ProductID,
		Quantity:        l.Quantity,
		UnitCost:        l.UnitCost,
	}
}
