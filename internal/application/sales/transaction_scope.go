package sales

import (
	"context"

	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/stock"
)

// TransactionScope provides transactional access to the repositories a
// sale or return touches. Everything executed within one scope commits
// or rolls back as a unit: document numbers, lot state, allocations and
// the sale document itself.
type TransactionScope interface {
	// Execute runs fn inside a database transaction. An error from fn
	// rolls the transaction back; nil commits it.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the repositories bound to the
// current transaction. Row locks taken through the ForUpdate finders are
// held until the scope commits or rolls back.
type TransactionalRepositories interface {
	// RangeRepo returns the numbering range repository in this transaction.
	RangeRepo() numbering.NumberingRangeRepository
	// LotRepo returns the lot repository in this transaction.
	LotRepo() stock.LotRepository
	// AllocationRepo returns the allocation repository in this transaction.
	AllocationRepo() stock.AllocationRepository
	// SaleRepo returns the sale repository in this transaction.
	SaleRepo() sales.SaleRepository
	// ReturnRepo returns the return repository in this transaction.
	ReturnRepo() sales.ReturnRepository
}

// NoOpTransactionScope runs the function against fixed repositories
// without a real transaction. For tests.
type NoOpTransactionScope struct {
	rangeRepo      numbering.NumberingRangeRepository
	lotRepo        stock.LotRepository
	allocationRepo stock.AllocationRepository
	saleRepo       sales.SaleRepository
	returnRepo     sales.ReturnRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope over the given
// repositories.
func NewNoOpTransactionScope(
	rangeRepo numbering.NumberingRangeRepository,
	lotRepo stock.LotRepository,
	allocationRepo stock.AllocationRepository,
	saleRepo sales.SaleRepository,
	returnRepo sales.ReturnRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		rangeRepo:      rangeRepo,
		lotRepo:        lotRepo,
		allocationRepo: allocationRepo,
		saleRepo:       saleRepo,
		returnRepo:     returnRepo,
	}
}

// Execute runs the function without a real transaction.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// RangeRepo returns the numbering range repository.
func (s *NoOpTransactionScope) RangeRepo() numbering.NumberingRangeRepository {
	return s.rangeRepo
}

// LotRepo returns the lot repository.
func (s *NoOpTransactionScope) LotRepo() stock.LotRepository {
	return s.lotRepo
}

// AllocationRepo returns the allocation repository.
func (s *NoOpTransactionScope) AllocationRepo() stock.AllocationRepository {
	return s.allocationRepo
}

// SaleRepo returns the sale repository.
func (s *NoOpTransactionScope) SaleRepo() sales.SaleRepository {
	return s.saleRepo
}

// ReturnRepo returns the return repository.
func (s *NoOpTransactionScope) ReturnRepo() sales.ReturnRepository {
	return s.returnRepo
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
