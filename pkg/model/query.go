package model

// SortField names a sortable todo attribute, using the wire (camelCase) name.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
	SortByTitle     SortField = "title"
	SortByPriority  SortField = "priority"
	SortByDueDate   SortField = "dueDate"
	SortByCompleted SortField = "completed"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByTitle, SortByPriority, SortByDueDate, SortByCompleted:
		return true
	default:
		return false
	}
}

// SortOrder is 1 for ascending and -1 for descending.
type SortOrder int

const (
	SortAscending  SortOrder = 1
	SortDescending SortOrder = -1
)

// ListOptions filters and pages a user's todos.
type ListOptions struct {
	Completed *bool
	Priority  Priority // empty matches any priority
	Limit     int
	Offset    int
	SortBy    SortField
	SortOrder SortOrder
}

// Normalize fills defaults: limit 50, newest first.
func (o *ListOptions) Normalize() {
	o.Limit = clampLimit(o.Limit, DefaultListLimit)
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.SortBy == "" {
		o.SortBy = SortByCreatedAt
	}
	if o.SortOrder == 0 {
		o.SortOrder = SortDescending
	}
}

// Validate rejects unknown sort fields, orders and priorities.
func (o *ListOptions) Validate() error {
	if o.Priority != "" && !o.Priority.Valid() {
		return NewValidationError("priority", "Priority must be low, medium, or high")
	}
	if o.SortBy != "" && !o.SortBy.Valid() {
		return NewValidationError("sortBy", "Cannot sort by %q", string(o.SortBy))
	}
	if o.SortOrder != 0 && o.SortOrder != SortAscending && o.SortOrder != SortDescending {
		return NewValidationError("sortOrder", "Sort order must be 1 or -1")
	}
	return nil
}

// SearchOptions pages a search.
type SearchOptions struct {
	Limit  int
	Offset int
}

// Normalize fills the default limit of 20.
func (o *SearchOptions) Normalize() {
	o.Limit = clampLimit(o.Limit, DefaultSearchLimit)
	if o.Offset < 0 {
		o.Offset = 0
	}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// Stats summarises a user's todos by completion and priority.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	HighPriority   int `json:"highPriority"`
	MediumPriority int `json:"mediumPriority"`
	LowPriority    int `json:"lowPriority"`
}

// Add counts t into the summary.
func (s *Stats) Add(t *Todo) {
	s.Total++
	if t.Completed {
		s.Completed++
	} else {
		s.Pending++
	}
	switch t.Priority {
	case PriorityHigh:
		s.HighPriority++
	case PriorityMedium:
		s.MediumPriority++
	case PriorityLow:
		s.LowPriority++
	}
}
