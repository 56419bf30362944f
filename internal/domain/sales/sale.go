package sales

import (
	"time"

	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of a sale document.
type SaleStatus string

const (
	SaleStatusCompleted         SaleStatus = "COMPLETED"
	SaleStatusReturned          SaleStatus = "RETURNED"
	SaleStatusPartiallyReturned SaleStatus = "PARTIALLY_RETURNED"
)

// SaleLine is one product position on a sale. Quantity and unit price
// are fixed when the line is added; cost comes later from the lot
// allocations recorded against the line.
type SaleLine struct {
	shared.BaseEntity
	SaleID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	LineTotal decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the database table name.
func (SaleLine) TableName() string {
	return "sale_lines"
}

// Sale is the finalized sale document the coordinator persists. It only
// ever comes into existence complete: lines added, number assigned,
// stock allocated. There is no draft state.
type Sale struct {
	shared.TenantAggregateRoot
	DocumentType   numbering.DocumentType `gorm:"type:varchar(20);not null"`
	DocumentNumber string                 `gorm:"type:varchar(50);index"` // empty for document types that carry no authorized number
	IssuedAt       time.Time              `gorm:"not null;index"`
	Lines          []SaleLine             `gorm:"foreignKey:SaleID;references:ID"`
	FinalTotal     decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	TotalCost      decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Status         SaleStatus             `gorm:"type:varchar(20);not null;default:'COMPLETED'"`
	IdempotencyKey string                 `gorm:"type:varchar(100);index"`
}

// TableName returns the database table name.
func (Sale) TableName() string {
	return "sales"
}

// NewSale starts a sale document for the given tenant and document type.
func NewSale(tenantID uuid.UUID, docType numbering.DocumentType, issuedAt time.Time) (*Sale, error) {
	if !docType.IsValid() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Unknown document type: "+string(docType))
	}
	if issuedAt.IsZero() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Sale issue time is required")
	}
	return &Sale{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		DocumentType:        docType,
		IssuedAt:            issuedAt,
		FinalTotal:          decimal.Zero,
		TotalCost:           decimal.Zero,
		Status:              SaleStatusCompleted,
	}, nil
}

// AddLine appends a product position and folds it into the final total.
func (s *Sale) AddLine(productID uuid.UUID, quantity, unitPrice decimal.Decimal) (*SaleLine, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Line quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Line unit price cannot be negative")
	}

	line := SaleLine{
		BaseEntity: shared.NewBaseEntity(),
		SaleID:     s.ID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		LineTotal:  quantity.Mul(unitPrice),
	}
	s.Lines = append(s.Lines, line)
	s.FinalTotal = s.FinalTotal.Add(line.LineTotal)
	s.Touch()
	return &s.Lines[len(s.Lines)-1], nil
}

// AssignDocumentNumber records the number reserved for this sale.
func (s *Sale) AssignDocumentNumber(number string) error {
	if s.DocumentNumber != "" {
		return shared.NewDomainError("VALIDATION_ERROR", "Sale already carries document number "+s.DocumentNumber)
	}
	if number == "" {
		return shared.NewDomainError("VALIDATION_ERROR", "Document number cannot be empty")
	}
	s.DocumentNumber = number
	s.Touch()
	return nil
}

// RecordCost stores the cost of goods sold computed from the sale's
// allocations.
func (s *Sale) RecordCost(totalCost decimal.Decimal) {
	s.TotalCost = totalCost
	s.Touch()
}

// MarkReturned moves the sale into a returned state. Full means every
// line came back.
func (s *Sale) MarkReturned(full bool) {
	if full {
		s.Status = SaleStatusReturned
	} else {
		s.Status = SaleStatusPartiallyReturned
	}
	s.IncrementVersion()
	s.Touch()
}

// LineByID finds a line on the sale.
func (s *Sale) LineByID(lineID uuid.UUID) (*SaleLine, error) {
	for i := range s.Lines {
		if s.Lines[i].ID == lineID {
			return &s.Lines[i], nil
		}
	}
	return nil, shared.ErrNotFound
}
