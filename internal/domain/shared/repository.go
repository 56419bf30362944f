package shared

// Filter carries common listing options for repository queries.
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string // "asc" or "desc"
}

// DefaultFilter returns a filter with sane pagination defaults.
func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: 50}
}

// Offset returns the row offset implied by the pagination settings.
func (f Filter) Offset() int {
	if f.Page <= 0 || f.PageSize <= 0 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}
