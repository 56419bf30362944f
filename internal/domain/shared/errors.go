package shared

// DomainError represents an expected, typed business failure. Nothing in
// the core is fatal: every failure is returned as a value the caller must
// handle.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code string) bool {
	de, ok := err.(*DomainError)
	return ok && de.Code == code
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrValidation          = NewDomainError("VALIDATION_ERROR", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")

	// Document numbering
	ErrNoActiveRange  = NewDomainError("NO_ACTIVE_RANGE", "No numbering range covers the current date")
	ErrRangeInactive  = NewDomainError("RANGE_INACTIVE", "Numbering range is deactivated")
	ErrRangeExhausted = NewDomainError("RANGE_EXHAUSTED", "Numbering range has no numbers left")

	// Stock ledger
	ErrInsufficientStock = NewDomainError("INSUFFICIENT_STOCK", "Insufficient stock available")
	ErrOverReturn        = NewDomainError("OVER_RETURN", "Return exceeds the originally allocated quantity")
)
