package persistence

import (
	"context"

	appsales "github.com/facilpos/backend/internal/application/sales"
	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/sales"
	"github.com/facilpos/backend/internal/domain/stock"
	"gorm.io/gorm"
)

// GormTransactionScope implements the sale coordinator's TransactionScope
// using GORM transactions. Row locks taken through the ForUpdate finders
// are held until the transaction commits or rolls back.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction. An error
// from fn rolls the transaction back; nil commits it.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appsales.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx}
		return fn(repos)
	})
}

// gormTransactionalRepositories binds all sale-path repositories to the
// current transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// RangeRepo returns the numbering range repository scoped to the current transaction.
func (r *gormTransactionalRepositories) RangeRepo() numbering.NumberingRangeRepository {
	return NewGormNumberingRangeRepository(r.tx)
}

// LotRepo returns the lot repository scoped to the current transaction.
func (r *gormTransactionalRepositories) LotRepo() stock.LotRepository {
	return NewGormLotRepository(r.tx)
}

// AllocationRepo returns the allocation repository scoped to the current transaction.
func (r *gormTransactionalRepositories) AllocationRepo() stock.AllocationRepository {
	return NewGormAllocationRepository(r.tx)
}

// SaleRepo returns the sale repository scoped to the current transaction.
func (r *gormTransactionalRepositories) SaleRepo() sales.SaleRepository {
	return NewGormSaleRepository(r.tx)
}

// ReturnRepo returns the return repository scoped to the current transaction.
func (r *gormTransactionalRepositories) ReturnRepo() sales.ReturnRepository {
	return NewGormReturnRepository(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appsales.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appsales.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
