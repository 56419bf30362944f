package sales

import (
	"context"
	"errors"
	"time"

	"github.com/facilpos/backend/internal/domain/costing"
	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries bounds how often the whole transaction is retried
	// after a serialization or optimistic-lock conflict.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the base delay between transaction retries.
	DefaultRetryBackoff = 20 * time.Millisecond
	// DefaultIdempotencyTTL is how long a processed idempotency key is
	// remembered.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Coordinator finalizes sales and returns as single atomic units. One
// transaction covers number reservation, stock allocation and document
// persistence; any business failure aborts the whole unit, so no number
// is consumed and no lot is touched by a sale that did not happen.
//
// Inside the transaction the coordinator takes row locks on the lots and
// the numbering range it is about to mutate, so two concurrent sales of
// the same product serialize at the database rather than failing.
// Conflicts that surface anyway (for example from the optimistic save
// path) retry the whole transaction within a bounded budget.
type Coordinator struct {
	scope        TransactionScope
	ledger       *stock.Ledger
	clock        shared.Clock
	idempotency  shared.IdempotencyStore
	logger       *zap.Logger
	maxRetries   int
	retryBackoff time.Duration
	ttl          time.Duration
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetryPolicy overrides the transaction retry bounds.
func WithRetryPolicy(maxRetries int, backoff time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithIdempotencyStore enables duplicate-request protection. A command
// whose idempotency key was already processed fails with ALREADY_EXISTS
// instead of consuming another number and more stock.
func WithIdempotencyStore(store shared.IdempotencyStore, ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.idempotency = store
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCoordinator creates a sale/return coordinator.
func NewCoordinator(
	scope TransactionScope,
	ledger *stock.Ledger,
	clock shared.Clock,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		scope:        scope,
		ledger:       ledger,
		clock:        clock,
		logger:       logger,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		ttl:          DefaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessSale finalizes a sale: allocates stock FIFO for every line,
// reserves a document number when the type calls for one, computes the
// cost of goods sold and persists everything in one transaction.
func (c *Coordinator) ProcessSale(ctx context.Context, cmd ProcessSaleCommand) (*SaleResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := c.claimIdempotencyKey(ctx, "sale", cmd.IdempotencyKey); err != nil {
		return nil, err
	}

	var result *SaleResult
	err := c.withRetry(ctx, func() error {
		return c.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			r, err := c.processSaleTx(ctx, repos, cmd)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		c.settleIdempotencyKeyOnFailure(ctx, "sale", cmd.IdempotencyKey, err)
		return nil, err
	}

	c.logger.Info("sale completed",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("document_type", cmd.DocumentType),
		zap.String("document_number", result.DocumentNumber),
		zap.String("final_total", result.FinalTotal.String()),
		zap.String("total_cost", result.TotalCost.String()),
	)
	return result, nil
}

func (c *Coordinator) processSaleTx(ctx context.Context, repos TransactionalRepositories, cmd ProcessSaleCommand) (*SaleResult, error) {
	now := c.clock.Now()
	docType := numbering.DocumentType(cmd.DocumentType)

	sale, err := sales.NewSale(cmd.TenantID, docType, now)
	if err != nil {
		return nil, err
	}
	sale.IdempotencyKey = cmd.IdempotencyKey

	lineAllocations := make([][]*stock.Allocation, 0, len(cmd.Lines))
	var allAllocations []*stock.Allocation
	for _, input := range cmd.Lines {
		line, err := sale.AddLine(input.ProductID, input.Quantity, input.UnitPrice)
		if err != nil {
			return nil, err
		}

		lots, err := repos.LotRepo().FindAllocatableForUpdate(ctx, cmd.TenantID, input.ProductID)
		if err != nil {
			return nil, err
		}
		allocations, err := c.ledger.AllocateForSale(cmd.TenantID, line.ID, input.Quantity, lots, now)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			lot := lotByID(lots, a.LotID)
			if err := repos.LotRepo().SaveWithLock(ctx, lot); err != nil {
				return nil, err
			}
		}
		lineAllocations = append(lineAllocations, allocations)
		allAllocations = append(allAllocations, allocations...)
	}

	number, err := c.reserveNumberTx(ctx, repos, cmd.TenantID, docType, now)
	switch {
	case err == nil:
		if err := sale.AssignDocumentNumber(number); err != nil {
			return nil, err
		}
	case !docType.RequiresAuthorizedNumber() && errors.Is(err, shared.ErrNoActiveRange):
		// Tickets sell unnumbered when the tenant never registered a
		// ticket range. A registered range that is inactive or exhausted
		// still aborts the sale.
	default:
		return nil, err
	}

	saleCost := costing.SaleCost(lineAllocations)
	sale.RecordCost(saleCost)

	if err := repos.SaleRepo().Create(ctx, sale); err != nil {
		return nil, err
	}
	if err := repos.AllocationRepo().CreateBatch(ctx, allAllocations); err != nil {
		return nil, err
	}

	return &SaleResult{
		SaleID:         sale.ID,
		DocumentNumber: sale.DocumentNumber,
		FinalTotal:     sale.FinalTotal,
		TotalCost:      saleCost,
		GrossProfit:    costing.GrossProfit(sale.FinalTotal, saleCost),
		Margin:         costing.Margin(sale.FinalTotal, saleCost),
	}, nil
}

// ProcessReturn reverses the allocations behind the returned lines,
// restores lot stock, optionally reserves a credit-note number and
// writes the return record, all in one transaction.
func (c *Coordinator) ProcessReturn(ctx context.Context, cmd ProcessReturnCommand) (*ReturnResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := c.claimIdempotencyKey(ctx, "return", cmd.IdempotencyKey); err != nil {
		return nil, err
	}

	var result *ReturnResult
	err := c.withRetry(ctx, func() error {
		return c.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			r, err := c.processReturnTx(ctx, repos, cmd)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		c.settleIdempotencyKeyOnFailure(ctx, "return", cmd.IdempotencyKey, err)
		return nil, err
	}

	c.logger.Info("return completed",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", cmd.SaleID.String()),
		zap.String("document_number", result.DocumentNumber),
		zap.String("total_amount", result.TotalAmount.String()),
	)
	return result, nil
}

func (c *Coordinator) processReturnTx(ctx context.Context, repos TransactionalRepositories, cmd ProcessReturnCommand) (*ReturnResult, error) {
	now := c.clock.Now()

	sale, err := repos.SaleRepo().FindByID(ctx, cmd.TenantID, cmd.SaleID)
	if err != nil {
		return nil, err
	}

	record, err := sales.NewReturnRecord(cmd.TenantID, sale.ID, now, cmd.Reason)
	if err != nil {
		return nil, err
	}

	var toReverse []*stock.Allocation
	for _, input := range cmd.Lines {
		line, err := sale.LineByID(input.SaleLineID)
		if err != nil {
			return nil, err
		}
		if input.Quantity.GreaterThan(line.Quantity) {
			return nil, shared.ErrOverReturn
		}

		allocations, err := repos.AllocationRepo().FindBySaleLine(ctx, cmd.TenantID, line.ID)
		if err != nil {
			return nil, err
		}
		selected, err := allocationsForQuantity(allocations, input.Quantity)
		if err != nil {
			return nil, err
		}
		toReverse = append(toReverse, selected...)

		amount := input.Quantity.Mul(line.UnitPrice)
		if _, err := record.AddLine(line.ID, input.Quantity, amount); err != nil {
			return nil, err
		}
	}

	lotIDs := make([]uuid.UUID, 0, len(toReverse))
	seen := make(map[uuid.UUID]bool, len(toReverse))
	for _, a := range toReverse {
		if !seen[a.LotID] {
			seen[a.LotID] = true
			lotIDs = append(lotIDs, a.LotID)
		}
	}
	lots, err := repos.LotRepo().FindByIDsForUpdate(ctx, cmd.TenantID, lotIDs)
	if err != nil {
		return nil, err
	}
	lotMap := make(map[uuid.UUID]*stock.Lot, len(lots))
	for _, lot := range lots {
		lotMap[lot.ID] = lot
	}

	if err := c.ledger.ReverseAllocations(toReverse, lotMap, now); err != nil {
		return nil, err
	}

	if cmd.IssueCreditNote {
		number, err := c.reserveNumberTx(ctx, repos, cmd.TenantID, numbering.DocumentTypeCreditNote, now)
		if err != nil {
			return nil, err
		}
		if err := record.AssignDocumentNumber(number); err != nil {
			return nil, err
		}
	}

	for _, lot := range lots {
		if err := repos.LotRepo().SaveWithLock(ctx, lot); err != nil {
			return nil, err
		}
	}
	if err := repos.AllocationRepo().MarkReversed(ctx, toReverse); err != nil {
		return nil, err
	}

	remaining, err := c.unReversedCount(ctx, repos, sale)
	if err != nil {
		return nil, err
	}
	sale.MarkReturned(remaining == 0)
	if err := repos.SaleRepo().Save(ctx, sale); err != nil {
		return nil, err
	}
	if err := repos.ReturnRepo().Create(ctx, record); err != nil {
		return nil, err
	}

	return &ReturnResult{
		ReturnID:       record.ID,
		DocumentNumber: record.DocumentNumber,
		TotalAmount:    record.TotalAmount,
		ReversedLots:   len(lotIDs),
	}, nil
}

// reserveNumberTx reserves the next document number inside the current
// transaction. The covering range rows are read under a write lock, so
// concurrent reservations serialize and the CurrentNumber increment can
// never be lost.
func (c *Coordinator) reserveNumberTx(
	ctx context.Context,
	repos TransactionalRepositories,
	tenantID uuid.UUID,
	docType numbering.DocumentType,
	now time.Time,
) (string, error) {
	ranges, err := repos.RangeRepo().FindCoveringDateForUpdate(ctx, tenantID, docType, now)
	if err != nil {
		return "", err
	}
	selected, err := numbering.SelectRange(ranges, now)
	if err != nil {
		return "", err
	}
	number, err := selected.ReserveNext(now)
	if err != nil {
		return "", err
	}
	if err := repos.RangeRepo().SaveWithLock(ctx, selected); err != nil {
		return "", err
	}
	return number, nil
}

// unReversedCount counts allocations of the sale that are still live.
func (c *Coordinator) unReversedCount(ctx context.Context, repos TransactionalRepositories, sale *sales.Sale) (int, error) {
	lineIDs := make([]uuid.UUID, len(sale.Lines))
	for i := range sale.Lines {
		lineIDs[i] = sale.Lines[i].ID
	}
	allocations, err := repos.AllocationRepo().FindBySaleLines(ctx, sale.TenantID, lineIDs)
	if err != nil {
		return 0, err
	}
	live := 0
	for _, a := range allocations {
		if !a.Reversed {
			live++
		}
	}
	return live, nil
}

// withRetry retries fn on CONCURRENCY_CONFLICT with linear backoff.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryBackoff):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !shared.IsCode(err, "CONCURRENCY_CONFLICT") {
			return err
		}
		lastErr = err
		c.logger.Debug("transaction lost a concurrency race, retrying",
			zap.Int("attempt", attempt+1))
	}
	return lastErr
}

// claimIdempotencyKey marks the key as processed before the transaction
// starts. A key already present means a duplicate request.
func (c *Coordinator) claimIdempotencyKey(ctx context.Context, kind, key string) error {
	if c.idempotency == nil || key == "" {
		return nil
	}
	fresh, err := c.idempotency.MarkProcessed(ctx, kind+":"+key, c.ttl)
	if err != nil {
		return err
	}
	if !fresh {
		return shared.ErrAlreadyExists
	}
	return nil
}

// settleIdempotencyKeyOnFailure decides what happens to a claimed key
// once the request has failed. A deterministic business rejection keeps
// the key claimed: retrying the identical request would fail the same
// way, and releasing would let a concurrent duplicate slip through the
// gap. A transient failure (a lost concurrency race past the retry
// budget, an infrastructure error) committed nothing, so the key is
// released and the client may retry under it.
func (c *Coordinator) settleIdempotencyKeyOnFailure(ctx context.Context, kind, key string, cause error) {
	if c.idempotency == nil || key == "" {
		return
	}
	if isDeterministicFailure(cause) {
		c.logger.Debug("request rejected, idempotency key kept",
			zap.String("key", key), zap.Error(cause))
		return
	}
	if err := c.idempotency.Release(ctx, kind+":"+key); err != nil {
		c.logger.Warn("failed to release idempotency key after transient failure",
			zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("idempotency key released after transient failure",
		zap.String("key", key), zap.Error(cause))
}

// isDeterministicFailure reports whether a retry of the identical
// request would hit the same rejection again.
func isDeterministicFailure(err error) bool {
	var de *shared.DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code != "CONCURRENCY_CONFLICT"
}

// allocationsForQuantity picks the allocations to reverse for a returned
// quantity. The live allocations are what is still returnable on the
// line; asking for more than their sum is an over-return, no matter how
// the quantity compares to what the line originally sold. Partial
// returns reverse whole allocations: the returned quantity must match a
// prefix sum of the live allocations so the cost basis of what came back
// stays exact.
func allocationsForQuantity(allocations []*stock.Allocation, requested decimal.Decimal) ([]*stock.Allocation, error) {
	live := make([]*stock.Allocation, 0, len(allocations))
	liveTotal := decimal.Zero
	for _, a := range allocations {
		if !a.Reversed {
			live = append(live, a)
			liveTotal = liveTotal.Add(a.QuantityTaken)
		}
	}
	if requested.GreaterThan(liveTotal) {
		return nil, shared.ErrOverReturn
	}

	selected := make([]*stock.Allocation, 0, len(live))
	covered := decimal.Zero
	for _, a := range live {
		if covered.GreaterThanOrEqual(requested) {
			break
		}
		selected = append(selected, a)
		covered = covered.Add(a.QuantityTaken)
	}
	if !covered.Equal(requested) {
		return nil, shared.NewDomainError("VALIDATION_ERROR",
			"Partial return quantity must match whole lot allocations; returnable steps are the allocation sizes")
	}
	return selected, nil
}

func lotByID(lots []*stock.Lot, id uuid.UUID) *stock.Lot {
	for _, lot := range lots {
		if lot.ID == id {
			return lot
		}
	}
	return nil
}
