package stock

import (
	"context"
	"time"

	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validator.New()

// ReceiptLineInput is one line of a purchase receipt.
type ReceiptLineInput struct {
	ProductID      uuid.UUID       `validate:"required"`
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ExpirationDate *time.Time
	Notes          string `validate:"omitempty,max=500"`
}

// RecordReceiptCommand registers the lines of a purchase receipt as lots.
type RecordReceiptCommand struct {
	TenantID   uuid.UUID          `validate:"required"`
	ReceiptRef string             `validate:"required,max=64"`
	EntryDate  time.Time          // defaults to the clock's now when zero
	Lines      []ReceiptLineInput `validate:"required,min=1,dive"`
}

// Validate checks the command's shape. The validator cannot look inside
// decimal.Decimal, so quantity and cost bounds are checked by hand.
func (c RecordReceiptCommand) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.NewDomainError("VALIDATION_ERROR", err.Error())
	}
	for _, line := range c.Lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewDomainError("VALIDATION_ERROR", "Receipt line quantity must be positive")
		}
		if line.UnitCost.IsNegative() {
			return shared.NewDomainError("VALIDATION_ERROR", "Receipt line unit cost cannot be negative")
		}
	}
	return nil
}

// ReceiptService turns purchase receipts into stock lots, one lot per
// receipt line.
type ReceiptService struct {
	lotRepo stock.LotRepository
	ledger  *stock.Ledger
	clock   shared.Clock
	logger  *zap.Logger
}

// NewReceiptService creates a receipt intake service.
func NewReceiptService(
	lotRepo stock.LotRepository,
	ledger *stock.Ledger,
	clock shared.Clock,
	logger *zap.Logger,
) *ReceiptService {
	return &ReceiptService{
		lotRepo: lotRepo,
		ledger:  ledger,
		clock:   clock,
		logger:  logger,
	}
}

// RecordReceipt creates one lot per receipt line, each entering with its
// full quantity available. Lines are validated together before any lot
// is persisted.
func (s *ReceiptService) RecordReceipt(ctx context.Context, cmd RecordReceiptCommand) ([]*stock.Lot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	entryDate := cmd.EntryDate
	if entryDate.IsZero() {
		entryDate = s.clock.Now()
	}

	lots := make([]*stock.Lot, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		lot, err := stock.NewLot(
			cmd.TenantID, line.ProductID, cmd.ReceiptRef,
			line.Quantity, line.UnitCost,
			entryDate, line.ExpirationDate, line.Notes,
		)
		if err != nil {
			return nil, err
		}
		lot.AddDomainEvent(stock.NewLotReceivedEvent(lot))
		lots = append(lots, lot)
	}

	for _, lot := range lots {
		if err := s.lotRepo.Save(ctx, lot); err != nil {
			return nil, err
		}
	}
	s.logger.Info("purchase receipt recorded",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("receipt_ref", cmd.ReceiptRef),
		zap.Int("lots", len(lots)),
	)
	return lots, nil
}

// AvailableQuantity reports how much of a product the tenant can sell
// right now, honoring the expired-lot policy.
func (s *ReceiptService) AvailableQuantity(ctx context.Context, tenantID, productID uuid.UUID) (decimal.Decimal, error) {
	lots, err := s.lotRepo.FindAllocatable(ctx, tenantID, productID)
	if err != nil {
		return decimal.Zero, err
	}
	snapshot := make([]stock.Lot, len(lots))
	for i, lot := range lots {
		snapshot[i] = *lot
	}
	return s.ledger.AvailableQuantity(snapshot, s.clock.Now()), nil
}

// ExpiringLots lists lots with remaining stock expiring before the
// deadline, for replenishment and markdown decisions.
func (s *ReceiptService) ExpiringLots(ctx context.Context, tenantID uuid.UUID, deadline time.Time, filter shared.Filter) ([]*stock.Lot, error) {
	return s.lotRepo.FindExpiringBefore(ctx, tenantID, deadline, filter)
}
