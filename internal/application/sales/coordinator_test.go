package sales

import (
	"context"
	"sync"
	"testing"
	"time"

	domainnumbering "github.com/facilpos/backend/internal/domain/numbering"
	domainsales "github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore backs the in-memory transactional scope. All access happens
// under the scope's mutex, so the repositories themselves don't lock.
type memStore struct {
	mu      sync.Mutex
	ranges  map[uuid.UUID]*domainnumbering.NumberingRange
	lots    map[uuid.UUID]*stock.Lot
	allocs  []*stock.Allocation
	sales   map[uuid.UUID]*domainsales.Sale
	returns map[uuid.UUID]*domainsales.ReturnRecord
}

func newMemStore() *memStore {
	return &memStore{
		ranges:  make(map[uuid.UUID]*domainnumbering.NumberingRange),
		lots:    make(map[uuid.UUID]*stock.Lot),
		sales:   make(map[uuid.UUID]*domainsales.Sale),
		returns: make(map[uuid.UUID]*domainsales.ReturnRecord),
	}
}

func cloneRange(src *domainnumbering.NumberingRange) *domainnumbering.NumberingRange {
	cp := *src
	cp.ClearDomainEvents()
	return &cp
}

func cloneLot(src *stock.Lot) *stock.Lot {
	cp := *src
	cp.ClearDomainEvents()
	return &cp
}

func cloneAlloc(src *stock.Allocation) *stock.Allocation {
	cp := *src
	if src.ReversedAt != nil {
		at := *src.ReversedAt
		cp.ReversedAt = &at
	}
	return &cp
}

func cloneSale(src *domainsales.Sale) *domainsales.Sale {
	cp := *src
	cp.ClearDomainEvents()
	cp.Lines = append([]domainsales.SaleLine(nil), src.Lines...)
	return &cp
}

func cloneReturn(src *domainsales.ReturnRecord) *domainsales.ReturnRecord {
	cp := *src
	cp.ClearDomainEvents()
	cp.Lines = append([]domainsales.ReturnLine(nil), src.Lines...)
	return &cp
}

type memSnapshot struct {
	ranges  map[uuid.UUID]*domainnumbering.NumberingRange
	lots    map[uuid.UUID]*stock.Lot
	allocs  []*stock.Allocation
	sales   map[uuid.UUID]*domainsales.Sale
	returns map[uuid.UUID]*domainsales.ReturnRecord
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		ranges:  make(map[uuid.UUID]*domainnumbering.NumberingRange, len(s.ranges)),
		lots:    make(map[uuid.UUID]*stock.Lot, len(s.lots)),
		allocs:  make([]*stock.Allocation, 0, len(s.allocs)),
		sales:   make(map[uuid.UUID]*domainsales.Sale, len(s.sales)),
		returns: make(map[uuid.UUID]*domainsales.ReturnRecord, len(s.returns)),
	}
	for id, r := range s.ranges {
		snap.ranges[id] = cloneRange(r)
	}
	for id, l := range s.lots {
		snap.lots[id] = cloneLot(l)
	}
	for _, a := range s.allocs {
		snap.allocs = append(snap.allocs, cloneAlloc(a))
	}
	for id, sale := range s.sales {
		snap.sales[id] = cloneSale(sale)
	}
	for id, r := range s.returns {
		snap.returns[id] = cloneReturn(r)
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.ranges = snap.ranges
	s.lots = snap.lots
	s.allocs = snap.allocs
	s.sales = snap.sales
	s.returns = snap.returns
}

// memScope serializes transactions with a mutex and rolls the store back
// to a snapshot when the function fails, matching the atomicity the real
// scope gets from the database.
type memScope struct {
	store *memStore
}

func (s *memScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	snap := s.store.snapshot()
	if err := fn(&memRepos{store: s.store}); err != nil {
		s.store.restore(snap)
		return err
	}
	return nil
}

type memRepos struct {
	store *memStore
}

func (r *memRepos) RangeRepo() domainnumbering.NumberingRangeRepository { return &memRangeRepo{r.store} }
func (r *memRepos) LotRepo() stock.LotRepository                       { return &memLotRepo{r.store} }
func (r *memRepos) AllocationRepo() stock.AllocationRepository         { return &memAllocRepo{r.store} }
func (r *memRepos) SaleRepo() domainsales.SaleRepository               { return &memSaleRepo{r.store} }
func (r *memRepos) ReturnRepo() domainsales.ReturnRepository           { return &memReturnRepo{r.store} }

type memRangeRepo struct{ store *memStore }

func (r *memRangeRepo) FindByID(_ context.Context, id uuid.UUID) (*domainnumbering.NumberingRange, error) {
	if stored, ok := r.store.ranges[id]; ok {
		return cloneRange(stored), nil
	}
	return nil, shared.ErrNotFound
}

func (r *memRangeRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*domainnumbering.NumberingRange, error) {
	found, err := r.FindByID(ctx, id)
	if err != nil || found.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return found, nil
}

func (r *memRangeRepo) FindByTenantAndType(_ context.Context, tenantID uuid.UUID, docType domainnumbering.DocumentType) ([]*domainnumbering.NumberingRange, error) {
	var out []*domainnumbering.NumberingRange
	for _, stored := range r.store.ranges {
		if stored.TenantID == tenantID && stored.DocumentType == docType {
			out = append(out, cloneRange(stored))
		}
	}
	return out, nil
}

func (r *memRangeRepo) FindCoveringDate(ctx context.Context, tenantID uuid.UUID, docType domainnumbering.DocumentType, date time.Time) ([]*domainnumbering.NumberingRange, error) {
	all, _ := r.FindByTenantAndType(ctx, tenantID, docType)
	var out []*domainnumbering.NumberingRange
	for _, stored := range all {
		if stored.CoversDate(date) {
			out = append(out, stored)
		}
	}
	return out, nil
}

func (r *memRangeRepo) FindCoveringDateForUpdate(ctx context.Context, tenantID uuid.UUID, docType domainnumbering.DocumentType, date time.Time) ([]*domainnumbering.NumberingRange, error) {
	return r.FindCoveringDate(ctx, tenantID, docType, date)
}

func (r *memRangeRepo) FindOverlapping(ctx context.Context, tenantID uuid.UUID, docType domainnumbering.DocumentType, from, to time.Time) ([]*domainnumbering.NumberingRange, error) {
	all, _ := r.FindByTenantAndType(ctx, tenantID, docType)
	var out []*domainnumbering.NumberingRange
	for _, stored := range all {
		if stored.Overlaps(from, to) {
			out = append(out, stored)
		}
	}
	return out, nil
}

func (r *memRangeRepo) FindAllForTenant(_ context.Context, tenantID uuid.UUID, _ shared.Filter) ([]*domainnumbering.NumberingRange, error) {
	var out []*domainnumbering.NumberingRange
	for _, stored := range r.store.ranges {
		if stored.TenantID == tenantID {
			out = append(out, cloneRange(stored))
		}
	}
	return out, nil
}

func (r *memRangeRepo) Save(_ context.Context, rng *domainnumbering.NumberingRange) error {
	r.store.ranges[rng.ID] = cloneRange(rng)
	return nil
}

func (r *memRangeRepo) SaveWithLock(_ context.Context, rng *domainnumbering.NumberingRange) error {
	stored, ok := r.store.ranges[rng.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != rng.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.store.ranges[rng.ID] = cloneRange(rng)
	return nil
}

type memLotRepo struct{ store *memStore }

func (r *memLotRepo) FindByID(_ context.Context, id uuid.UUID) (*stock.Lot, error) {
	if stored, ok := r.store.lots[id]; ok {
		return cloneLot(stored), nil
	}
	return nil, shared.ErrNotFound
}

func (r *memLotRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*stock.Lot, error) {
	found, err := r.FindByID(ctx, id)
	if err != nil || found.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return found, nil
}

func (r *memLotRepo) FindByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*stock.Lot, error) {
	var out []*stock.Lot
	for _, id := range ids {
		if stored, ok := r.store.lots[id]; ok && stored.TenantID == tenantID {
			out = append(out, cloneLot(stored))
		}
	}
	return out, nil
}

func (r *memLotRepo) FindAllocatable(_ context.Context, tenantID, productID uuid.UUID) ([]*stock.Lot, error) {
	var out []*stock.Lot
	for _, stored := range r.store.lots {
		if stored.TenantID == tenantID && stored.ProductID == productID && stored.HasStock() {
			out = append(out, cloneLot(stored))
		}
	}
	return out, nil
}

func (r *memLotRepo) FindAllocatableForUpdate(ctx context.Context, tenantID, productID uuid.UUID) ([]*stock.Lot, error) {
	return r.FindAllocatable(ctx, tenantID, productID)
}

func (r *memLotRepo) FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*stock.Lot, error) {
	return r.FindByIDs(ctx, tenantID, ids)
}

func (r *memLotRepo) FindByProduct(_ context.Context, tenantID, productID uuid.UUID, _ shared.Filter) ([]*stock.Lot, error) {
	var out []*stock.Lot
	for _, stored := range r.store.lots {
		if stored.TenantID == tenantID && stored.ProductID == productID {
			out = append(out, cloneLot(stored))
		}
	}
	return out, nil
}

func (r *memLotRepo) FindExpiringBefore(_ context.Context, tenantID uuid.UUID, deadline time.Time, _ shared.Filter) ([]*stock.Lot, error) {
	var out []*stock.Lot
	for _, stored := range r.store.lots {
		if stored.TenantID == tenantID && stored.HasStock() &&
			stored.ExpirationDate != nil && stored.ExpirationDate.Before(deadline) {
			out = append(out, cloneLot(stored))
		}
	}
	return out, nil
}

func (r *memLotRepo) Save(_ context.Context, lot *stock.Lot) error {
	r.store.lots[lot.ID] = cloneLot(lot)
	return nil
}

func (r *memLotRepo) SaveWithLock(_ context.Context, lot *stock.Lot) error {
	stored, ok := r.store.lots[lot.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version >= lot.Version {
		return shared.ErrConcurrencyConflict
	}
	r.store.lots[lot.ID] = cloneLot(lot)
	return nil
}

type memAllocRepo struct{ store *memStore }

func (r *memAllocRepo) FindByID(_ context.Context, id uuid.UUID) (*stock.Allocation, error) {
	for _, a := range r.store.allocs {
		if a.ID == id {
			return cloneAlloc(a), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memAllocRepo) FindBySaleLine(_ context.Context, tenantID, saleLineID uuid.UUID) ([]*stock.Allocation, error) {
	var out []*stock.Allocation
	for _, a := range r.store.allocs {
		if a.TenantID == tenantID && a.SaleLineID == saleLineID {
			out = append(out, cloneAlloc(a))
		}
	}
	return out, nil
}

func (r *memAllocRepo) FindBySaleLines(ctx context.Context, tenantID uuid.UUID, saleLineIDs []uuid.UUID) ([]*stock.Allocation, error) {
	var out []*stock.Allocation
	for _, id := range saleLineIDs {
		part, _ := r.FindBySaleLine(ctx, tenantID, id)
		out = append(out, part...)
	}
	return out, nil
}

func (r *memAllocRepo) FindByLot(_ context.Context, tenantID, lotID uuid.UUID) ([]*stock.Allocation, error) {
	var out []*stock.Allocation
	for _, a := range r.store.allocs {
		if a.TenantID == tenantID && a.LotID == lotID {
			out = append(out, cloneAlloc(a))
		}
	}
	return out, nil
}

func (r *memAllocRepo) CreateBatch(_ context.Context, allocations []*stock.Allocation) error {
	for _, a := range allocations {
		r.store.allocs = append(r.store.allocs, cloneAlloc(a))
	}
	return nil
}

func (r *memAllocRepo) MarkReversed(_ context.Context, allocations []*stock.Allocation) error {
	for _, a := range allocations {
		for i, stored := range r.store.allocs {
			if stored.ID == a.ID {
				r.store.allocs[i] = cloneAlloc(a)
			}
		}
	}
	return nil
}

type memSaleRepo struct{ store *memStore }

func (r *memSaleRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*domainsales.Sale, error) {
	if stored, ok := r.store.sales[id]; ok && stored.TenantID == tenantID {
		return cloneSale(stored), nil
	}
	return nil, shared.ErrNotFound
}

func (r *memSaleRepo) FindByDocumentNumber(_ context.Context, tenantID uuid.UUID, documentNumber string) (*domainsales.Sale, error) {
	for _, stored := range r.store.sales {
		if stored.TenantID == tenantID && stored.DocumentNumber == documentNumber {
			return cloneSale(stored), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memSaleRepo) FindAll(_ context.Context, tenantID uuid.UUID, _ shared.Filter) ([]*domainsales.Sale, error) {
	var out []*domainsales.Sale
	for _, stored := range r.store.sales {
		if stored.TenantID == tenantID {
			out = append(out, cloneSale(stored))
		}
	}
	return out, nil
}

func (r *memSaleRepo) Create(_ context.Context, sale *domainsales.Sale) error {
	r.store.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (r *memSaleRepo) Save(_ context.Context, sale *domainsales.Sale) error {
	r.store.sales[sale.ID] = cloneSale(sale)
	return nil
}

type memReturnRepo struct{ store *memStore }

func (r *memReturnRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*domainsales.ReturnRecord, error) {
	if stored, ok := r.store.returns[id]; ok && stored.TenantID == tenantID {
		return cloneReturn(stored), nil
	}
	return nil, shared.ErrNotFound
}

func (r *memReturnRepo) FindBySale(_ context.Context, tenantID, saleID uuid.UUID) ([]*domainsales.ReturnRecord, error) {
	var out []*domainsales.ReturnRecord
	for _, stored := range r.store.returns {
		if stored.TenantID == tenantID && stored.SaleID == saleID {
			out = append(out, cloneReturn(stored))
		}
	}
	return out, nil
}

func (r *memReturnRepo) Create(_ context.Context, record *domainsales.ReturnRecord) error {
	r.store.returns[record.ID] = cloneReturn(record)
	return nil
}

type memIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{keys: make(map[string]bool)}
}

func (s *memIdempotencyStore) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *memIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// conflictScope loses the concurrency race on every attempt, so the
// coordinator's retry budget always runs out.
type conflictScope struct{}

func (conflictScope) Execute(context.Context, func(TransactionalRepositories) error) error {
	return shared.ErrConcurrencyConflict
}

// fixture wires a coordinator over the in-memory transactional store.
type fixture struct {
	store       *memStore
	coordinator *Coordinator
	tenantID    uuid.UUID
	productID   uuid.UUID
	clock       shared.FixedClock
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		tenantID:  uuid.New(),
		productID: uuid.New(),
		clock:     shared.NewFixedClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)),
	}
	f.coordinator = NewCoordinator(
		&memScope{store: f.store},
		stock.NewLedger(),
		f.clock,
		zap.NewNop(),
		opts...,
	)
	return f
}

func (f *fixture) addRange(t *testing.T, docType domainnumbering.DocumentType, prefix string, rangeTo int64) *domainnumbering.NumberingRange {
	t.Helper()
	r, err := domainnumbering.NewNumberingRange(
		f.tenantID, docType, prefix,
		"RES-2026-001", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		1, rangeTo,
	)
	require.NoError(t, err)
	f.store.ranges[r.ID] = r
	return r
}

func (f *fixture) addLot(t *testing.T, qty, cost string, day int) *stock.Lot {
	t.Helper()
	lot, err := stock.NewLot(
		f.tenantID, f.productID, "REC-TEST",
		decimal.RequireFromString(qty), decimal.RequireFromString(cost),
		time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC), nil, "",
	)
	require.NoError(t, err)
	f.store.lots[lot.ID] = lot
	return lot
}

func (f *fixture) saleCommand(qty, price string) ProcessSaleCommand {
	return ProcessSaleCommand{
		TenantID:     f.tenantID,
		DocumentType: "INVOICE",
		Lines: []SaleLineInput{
			{ProductID: f.productID, Quantity: decimal.RequireFromString(qty), UnitPrice: decimal.RequireFromString(price)},
		},
	}
}

func TestProcessSale(t *testing.T) {
	ctx := context.Background()

	t.Run("allocates FIFO, reserves a number and persists atomically", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)

		result, err := f.coordinator.ProcessSale(ctx, f.saleCommand("7", "15.00"))
		require.NoError(t, err)

		assert.Equal(t, "FAC-00000001", result.DocumentNumber)
		assert.True(t, result.FinalTotal.Equal(decimal.RequireFromString("105.00")))
		assert.True(t, result.TotalCost.Equal(decimal.RequireFromString("74.00")))
		assert.True(t, result.GrossProfit.Equal(decimal.RequireFromString("31.00")))
		assert.True(t, result.Margin.Equal(decimal.RequireFromString("29.5238")))

		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.IsZero())
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(3)))
		require.Len(t, f.store.allocs, 2)

		sale := f.store.sales[result.SaleID]
		require.NotNil(t, sale)
		assert.Equal(t, domainsales.SaleStatusCompleted, sale.Status)
		assert.Equal(t, "FAC-00000001", sale.DocumentNumber)
	})

	t.Run("insufficient stock aborts everything including the number", func(t *testing.T) {
		f := newFixture(t)
		r := f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)

		_, err := f.coordinator.ProcessSale(ctx, f.saleCommand("11", "15.00"))
		require.ErrorIs(t, err, shared.ErrInsufficientStock)

		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.Empty(t, f.store.allocs)
		assert.Empty(t, f.store.sales)
		assert.Equal(t, int64(0), f.store.ranges[r.ID].CurrentNumber)
	})

	t.Run("a failing second line rolls back the first line's allocation", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		lot := f.addLot(t, "5", "10.00", 1)
		otherProduct := uuid.New()

		cmd := f.saleCommand("3", "15.00")
		cmd.Lines = append(cmd.Lines, SaleLineInput{
			ProductID: otherProduct,
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(1),
		})
		_, err := f.coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrInsufficientStock)

		assert.True(t, f.store.lots[lot.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.Empty(t, f.store.allocs)
	})

	t.Run("missing numbering range aborts the sale and frees the stock", func(t *testing.T) {
		f := newFixture(t)
		lot := f.addLot(t, "5", "10.00", 1)

		_, err := f.coordinator.ProcessSale(ctx, f.saleCommand("3", "15.00"))
		require.ErrorIs(t, err, shared.ErrNoActiveRange)
		assert.True(t, f.store.lots[lot.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.Empty(t, f.store.sales)
	})

	t.Run("range exhaustion aborts the sale", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1)
		f.addLot(t, "10", "10.00", 1)

		_, err := f.coordinator.ProcessSale(ctx, f.saleCommand("1", "15.00"))
		require.NoError(t, err)

		lotID := func() uuid.UUID {
			for id := range f.store.lots {
				return id
			}
			return uuid.Nil
		}()
		before := f.store.lots[lotID].RemainingQuantity

		_, err = f.coordinator.ProcessSale(ctx, f.saleCommand("1", "15.00"))
		require.ErrorIs(t, err, shared.ErrRangeExhausted)
		assert.True(t, f.store.lots[lotID].RemainingQuantity.Equal(before))
	})

	t.Run("tickets consume stock but no authorized number", func(t *testing.T) {
		f := newFixture(t)
		f.addLot(t, "5", "10.00", 1)

		cmd := f.saleCommand("2", "15.00")
		cmd.DocumentType = "TICKET"
		result, err := f.coordinator.ProcessSale(ctx, cmd)
		require.NoError(t, err)
		assert.Empty(t, result.DocumentNumber)
		require.Len(t, f.store.allocs, 1)
	})

	t.Run("tickets draw from a registered ticket range", func(t *testing.T) {
		f := newFixture(t)
		r := f.addRange(t, domainnumbering.DocumentTypeTicket, "TK", 1000)
		f.addLot(t, "5", "10.00", 1)

		cmd := f.saleCommand("2", "15.00")
		cmd.DocumentType = "TICKET"
		result, err := f.coordinator.ProcessSale(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "TK-00000001", result.DocumentNumber)
		assert.Equal(t, int64(1), f.store.ranges[r.ID].CurrentNumber)
	})

	t.Run("a deactivated ticket range aborts the sale", func(t *testing.T) {
		f := newFixture(t)
		r := f.addRange(t, domainnumbering.DocumentTypeTicket, "TK", 1000)
		r.Deactivate()
		lot := f.addLot(t, "5", "10.00", 1)

		cmd := f.saleCommand("2", "15.00")
		cmd.DocumentType = "TICKET"
		_, err := f.coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrRangeInactive)
		assert.True(t, f.store.lots[lot.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
	})

	t.Run("rejects malformed commands up front", func(t *testing.T) {
		f := newFixture(t)
		cmd := f.saleCommand("0", "15.00")
		_, err := f.coordinator.ProcessSale(ctx, cmd)
		require.Error(t, err)
		assert.True(t, shared.IsCode(err, "VALIDATION_ERROR"))
	})

	t.Run("duplicate idempotency keys are refused", func(t *testing.T) {
		store := newMemIdempotencyStore()
		f := newFixture(t, WithIdempotencyStore(store, time.Hour))
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addLot(t, "10", "10.00", 1)

		cmd := f.saleCommand("2", "15.00")
		cmd.IdempotencyKey = "req-123"
		_, err := f.coordinator.ProcessSale(ctx, cmd)
		require.NoError(t, err)

		_, err = f.coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrAlreadyExists)
		assert.Len(t, f.store.sales, 1)
	})

	t.Run("a business rejection keeps the idempotency key claimed", func(t *testing.T) {
		store := newMemIdempotencyStore()
		f := newFixture(t, WithIdempotencyStore(store, time.Hour))
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addLot(t, "2", "10.00", 1)

		cmd := f.saleCommand("5", "15.00")
		cmd.IdempotencyKey = "req-short-stock"
		_, err := f.coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrInsufficientStock)

		// Retrying the identical request hits the claimed key, not
		// another round of allocation.
		_, err = f.coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("an exhausted retry budget releases the idempotency key", func(t *testing.T) {
		store := newMemIdempotencyStore()
		coordinator := NewCoordinator(
			conflictScope{},
			stock.NewLedger(),
			shared.NewFixedClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)),
			zap.NewNop(),
			WithRetryPolicy(2, time.Millisecond),
			WithIdempotencyStore(store, time.Hour),
		)

		cmd := ProcessSaleCommand{
			TenantID:       uuid.New(),
			DocumentType:   "INVOICE",
			IdempotencyKey: "req-raced",
			Lines: []SaleLineInput{
				{ProductID: uuid.New(), Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)},
			},
		}
		_, err := coordinator.ProcessSale(ctx, cmd)
		require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

		processed, err := store.IsProcessed(ctx, "sale:req-raced")
		require.NoError(t, err)
		assert.False(t, processed, "key should be free for the client to retry")
	})
}

func TestProcessSaleConcurrent(t *testing.T) {
	ctx := context.Background()
	const workers = 12

	f := newFixture(t)
	r := f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
	lot := f.addLot(t, "100", "10.00", 1)

	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.coordinator.ProcessSale(ctx, f.saleCommand("1", "15.00"))
			assert.NoError(t, err)
			if result != nil {
				numbers <- result.DocumentNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, workers)
	for n := range numbers {
		require.False(t, seen[n], "duplicate document number %s", n)
		seen[n] = true
	}
	require.Len(t, seen, workers)

	assert.Equal(t, int64(workers), f.store.ranges[r.ID].CurrentNumber)
	assert.True(t, f.store.lots[lot.ID].RemainingQuantity.Equal(decimal.NewFromInt(100-workers)))
	assert.Len(t, f.store.allocs, workers)
}

func TestProcessReturn(t *testing.T) {
	ctx := context.Background()

	sell := func(t *testing.T, f *fixture, qty string) *SaleResult {
		t.Helper()
		result, err := f.coordinator.ProcessSale(ctx, f.saleCommand(qty, "15.00"))
		require.NoError(t, err)
		return result
	}

	returnCmd := func(f *fixture, saleID uuid.UUID, lineID uuid.UUID, qty string, creditNote bool) ProcessReturnCommand {
		return ProcessReturnCommand{
			TenantID:        f.tenantID,
			SaleID:          saleID,
			Lines:           []ReturnLineInput{{SaleLineID: lineID, Quantity: decimal.RequireFromString(qty)}},
			IssueCreditNote: creditNote,
			Reason:          "customer changed their mind",
		}
	}

	t.Run("full return restores lots exactly and issues a credit note", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addRange(t, domainnumbering.DocumentTypeCreditNote, "NC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)
		result := sell(t, f, "7")
		sale := f.store.sales[result.SaleID]

		ret, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "7", true))
		require.NoError(t, err)

		assert.Equal(t, "NC-00000001", ret.DocumentNumber)
		assert.True(t, ret.TotalAmount.Equal(decimal.RequireFromString("105.00")))
		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.Equal(t, domainsales.SaleStatusReturned, f.store.sales[sale.ID].Status)
		for _, a := range f.store.allocs {
			assert.True(t, a.Reversed)
		}
	})

	t.Run("second return of the same line is an over-return", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		lot := f.addLot(t, "10", "10.00", 1)
		result := sell(t, f, "4")
		sale := f.store.sales[result.SaleID]

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "4", false))
		require.NoError(t, err)

		_, err = f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "4", false))
		require.ErrorIs(t, err, shared.ErrOverReturn)
		assert.True(t, f.store.lots[lot.ID].RemainingQuantity.Equal(decimal.NewFromInt(10)))
		assert.Len(t, f.store.returns, 1)
	})

	t.Run("returning more than was sold fails", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addLot(t, "10", "10.00", 1)
		result := sell(t, f, "4")
		sale := f.store.sales[result.SaleID]

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "5", false))
		require.ErrorIs(t, err, shared.ErrOverReturn)
		assert.Empty(t, f.store.returns)
	})

	t.Run("partial return reverses whole allocations", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)
		result := sell(t, f, "7")
		sale := f.store.sales[result.SaleID]

		// The sale drew 5 from the first lot and 2 from the second; a
		// 5-unit return maps exactly onto the first allocation.
		ret, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "5", false))
		require.NoError(t, err)
		assert.Equal(t, 1, ret.ReversedLots)
		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, domainsales.SaleStatusPartiallyReturned, f.store.sales[sale.ID].Status)
	})

	t.Run("full-quantity return after a partial return is an over-return", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)
		result := sell(t, f, "7")
		sale := f.store.sales[result.SaleID]

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "5", false))
		require.NoError(t, err)

		// Only 2 units are still returnable; asking for the full line
		// quantity again must not refund 7 against 2 units of stock.
		_, err = f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "7", false))
		require.ErrorIs(t, err, shared.ErrOverReturn)
		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(3)))
		assert.Len(t, f.store.returns, 1)
	})

	t.Run("the remainder after a partial return can still come back", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		l1 := f.addLot(t, "5", "10.00", 1)
		l2 := f.addLot(t, "5", "12.00", 2)
		result := sell(t, f, "7")
		sale := f.store.sales[result.SaleID]

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "5", false))
		require.NoError(t, err)

		_, err = f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "2", false))
		require.NoError(t, err)
		assert.True(t, f.store.lots[l1.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, f.store.lots[l2.ID].RemainingQuantity.Equal(decimal.NewFromInt(5)))
		assert.Equal(t, domainsales.SaleStatusReturned, f.store.sales[sale.ID].Status)
	})

	t.Run("partial return not matching allocation sizes is refused", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addLot(t, "5", "10.00", 1)
		f.addLot(t, "5", "12.00", 2)
		result := sell(t, f, "7")
		sale := f.store.sales[result.SaleID]

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, sale.ID, sale.Lines[0].ID, "3", false))
		require.Error(t, err)
		assert.True(t, shared.IsCode(err, "VALIDATION_ERROR"))
	})

	t.Run("unknown sale line is NOT_FOUND", func(t *testing.T) {
		f := newFixture(t)
		f.addRange(t, domainnumbering.DocumentTypeInvoice, "FAC", 1000)
		f.addLot(t, "10", "10.00", 1)
		result := sell(t, f, "4")

		_, err := f.coordinator.ProcessReturn(ctx,
			returnCmd(f, result.SaleID, uuid.New(), "1", false))
		require.ErrorIs(t, err, shared.ErrNotFound)
	})
}
