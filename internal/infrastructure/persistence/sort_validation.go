package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes a sort direction to ASC or DESC, falling
// back to ASC. Sort input reaches the query as raw SQL, so it never
// passes through unvalidated.
func ValidateSortOrder(orderDir string) string {
	if strings.EqualFold(strings.TrimSpace(orderDir), "desc") {
		return "DESC"
	}
	return "ASC"
}

// ValidateSortField checks a sort field against a whitelist of column
// names. Returns the empty string when the field is not allowed.
func ValidateSortField(sortField string, allowedFields map[string]bool) string {
	trimmed := strings.TrimSpace(sortField)
	if allowedFields[trimmed] {
		return trimmed
	}
	return ""
}

// NumberingRangeSortFields contains allowed sort fields for numbering ranges.
var NumberingRangeSortFields = map[string]bool{
	"id":             true,
	"created_at":     true,
	"updated_at":     true,
	"document_type":  true,
	"valid_from":     true,
	"valid_to":       true,
	"current_number": true,
	"range_to":       true,
}

// LotSortFields contains allowed sort fields for stock lots.
var LotSortFields = map[string]bool{
	"id":                 true,
	"created_at":         true,
	"updated_at":         true,
	"entry_date":         true,
	"expiration_date":    true,
	"remaining_quantity": true,
	"unit_cost":          true,
}

// SaleSortFields contains allowed sort fields for sales.
var SaleSortFields = map[string]bool{
	"id":              true,
	"created_at":      true,
	"updated_at":      true,
	"issued_at":       true,
	"document_number": true,
	"status":          true,
	"final_total":     true,
}
