package numbering

import (
	"context"
	"time"

	"github.com/facilpos/backend/internal/domain/numbering"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries bounds how often a reservation is retried after an
	// optimistic-lock conflict before the conflict is surfaced.
	DefaultMaxRetries = 5
	// DefaultRetryBackoff is the base delay between reservation retries;
	// the delay grows linearly with the attempt number.
	DefaultRetryBackoff = 10 * time.Millisecond
)

// Service manages authorized numbering ranges and reserves document
// numbers from them. Reservation uses optimistic locking: the range is
// re-read and the increment retried when another process got there
// first, so callers only ever see CONCURRENCY_CONFLICT after the retry
// budget is spent.
type Service struct {
	rangeRepo    numbering.NumberingRangeRepository
	clock        shared.Clock
	logger       *zap.Logger
	maxRetries   int
	retryBackoff time.Duration

	allowFallback bool
	production    bool
}

// ServiceOption configures the numbering service.
type ServiceOption func(*Service)

// WithRetryPolicy overrides the reservation retry bounds.
func WithRetryPolicy(maxRetries int, backoff time.Duration) ServiceOption {
	return func(s *Service) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// WithFallbackProvisioning enables automatic provisioning of a flagged
// wide-open range when no range covers the current date. The switch is
// refused in production regardless of its value.
func WithFallbackProvisioning(enabled, production bool) ServiceOption {
	return func(s *Service) {
		s.allowFallback = enabled && !production
		s.production = production
	}
}

// NewService creates a numbering service.
func NewService(
	rangeRepo numbering.NumberingRangeRepository,
	clock shared.Clock,
	logger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		rangeRepo:    rangeRepo,
		clock:        clock,
		logger:       logger,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRange registers a newly authorized range for a tenant. At most
// one active range per (tenant, document type) may cover any given date,
// enforced here against the existing active ranges' validity windows.
func (s *Service) CreateRange(ctx context.Context, cmd CreateRangeCommand) (*numbering.NumberingRange, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	docType := numbering.DocumentType(cmd.DocumentType)
	overlapping, err := s.rangeRepo.FindOverlapping(ctx, cmd.TenantID, docType, cmd.ValidFrom, cmd.ValidTo)
	if err != nil {
		return nil, err
	}
	for _, existing := range overlapping {
		if existing.IsActive {
			return nil, shared.NewDomainError("ALREADY_EXISTS",
				"An active range already covers part of this validity window: "+existing.AuthorizationNumber)
		}
	}

	r, err := numbering.NewNumberingRange(
		cmd.TenantID, docType, cmd.Prefix,
		cmd.AuthorizationNumber, cmd.AuthorizationDate,
		cmd.ValidFrom, cmd.ValidTo,
		cmd.RangeFrom, cmd.RangeTo,
	)
	if err != nil {
		return nil, err
	}
	r.AddDomainEvent(numbering.NewRangeAuthorizedEvent(r))

	if err := s.rangeRepo.Save(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("numbering range created",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("document_type", docType.String()),
		zap.String("authorization_number", cmd.AuthorizationNumber),
		zap.Int64("capacity", cmd.RangeTo-cmd.RangeFrom+1),
	)
	return r, nil
}

// ReserveNext issues the next document number for the tenant and type.
// The active range covering today is selected, its counter advanced, and
// the update persisted with a version check. A lost race re-reads the
// range and retries with linear backoff up to the retry budget.
func (s *Service) ReserveNext(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType) (string, error) {
	if !docType.IsValid() {
		return "", shared.NewDomainError("VALIDATION_ERROR", "Unknown document type: "+string(docType))
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * s.retryBackoff):
			}
		}

		number, err := s.reserveOnce(ctx, tenantID, docType)
		if err == nil {
			return number, nil
		}
		if !shared.IsCode(err, "CONCURRENCY_CONFLICT") {
			return "", err
		}
		lastErr = err
		s.logger.Debug("number reservation lost optimistic race, retrying",
			zap.String("tenant_id", tenantID.String()),
			zap.String("document_type", docType.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	s.logger.Warn("number reservation exhausted retry budget",
		zap.String("tenant_id", tenantID.String()),
		zap.String("document_type", docType.String()),
		zap.Int("max_retries", s.maxRetries),
	)
	return "", lastErr
}

func (s *Service) reserveOnce(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType) (string, error) {
	today := s.clock.Now()

	ranges, err := s.rangeRepo.FindByTenantAndType(ctx, tenantID, docType)
	if err != nil {
		return "", err
	}
	selected, err := numbering.SelectRange(ranges, today)
	if err != nil {
		if selected, err = s.maybeProvisionFallback(ctx, tenantID, docType, err); err != nil {
			return "", err
		}
	}

	number, err := selected.ReserveNext(today)
	if err != nil {
		return "", err
	}
	if err := s.rangeRepo.SaveWithLock(ctx, selected); err != nil {
		return "", err
	}
	return number, nil
}

// maybeProvisionFallback turns NO_ACTIVE_RANGE into a flagged wide-open
// range when fallback provisioning is switched on. Never in production.
func (s *Service) maybeProvisionFallback(
	ctx context.Context,
	tenantID uuid.UUID,
	docType numbering.DocumentType,
	selectErr error,
) (*numbering.NumberingRange, error) {
	if !s.allowFallback || !shared.IsCode(selectErr, "NO_ACTIVE_RANGE") {
		return nil, selectErr
	}

	today := s.clock.Now()
	r, err := numbering.NewNumberingRange(
		tenantID, docType, "TMP",
		"AUTO-FALLBACK", today,
		today, today.AddDate(10, 0, 0),
		1, 99999999,
	)
	if err != nil {
		return nil, err
	}
	r.Fallback = true
	if err := s.rangeRepo.Save(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Warn("auto-provisioned fallback numbering range",
		zap.String("tenant_id", tenantID.String()),
		zap.String("document_type", docType.String()),
	)
	return r, nil
}

// Deactivate takes a range out of service.
func (s *Service) Deactivate(ctx context.Context, tenantID, rangeID uuid.UUID) error {
	r, err := s.rangeRepo.FindByIDForTenant(ctx, tenantID, rangeID)
	if err != nil {
		return err
	}
	r.Deactivate()
	return s.rangeRepo.SaveWithLock(ctx, r)
}

// Activate puts a range back in service, re-checking the overlap rule
// against the other active ranges of the same type.
func (s *Service) Activate(ctx context.Context, tenantID, rangeID uuid.UUID) error {
	r, err := s.rangeRepo.FindByIDForTenant(ctx, tenantID, rangeID)
	if err != nil {
		return err
	}
	overlapping, err := s.rangeRepo.FindOverlapping(ctx, tenantID, r.DocumentType, r.ValidFrom, r.ValidTo)
	if err != nil {
		return err
	}
	for _, other := range overlapping {
		if other.ID != r.ID && other.IsActive {
			return shared.NewDomainError("ALREADY_EXISTS",
				"An active range already covers part of this validity window: "+other.AuthorizationNumber)
		}
	}
	r.Activate()
	return s.rangeRepo.SaveWithLock(ctx, r)
}

// RemainingCapacity reports how many numbers the range covering today can
// still issue for the tenant and type.
func (s *Service) RemainingCapacity(ctx context.Context, tenantID uuid.UUID, docType numbering.DocumentType) (int64, error) {
	ranges, err := s.rangeRepo.FindByTenantAndType(ctx, tenantID, docType)
	if err != nil {
		return 0, err
	}
	selected, err := numbering.SelectRange(ranges, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return selected.RemainingCapacity(), nil
}

// ListRanges returns a page of the tenant's ranges.
func (s *Service) ListRanges(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*numbering.NumberingRange, error) {
	return s.rangeRepo.FindAllForTenant(ctx, tenantID, filter)
}
