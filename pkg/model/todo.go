package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTodoTitleLength       = 200
	MaxTodoDescriptionLength = 1000
	MaxTodoTags              = 50

	DefaultListLimit   = 50
	DefaultSearchLimit = 20
	MaxPageLimit       = 500
)

// Priority is the urgency of a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of low, medium or high.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Rank orders priorities low < medium < high. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

// ParsePriority converts s to a Priority, reporting a validation error for
// unknown values.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewValidationError("priority", "Priority must be low, medium, or high")
	}
	return p, nil
}

// Todo is a single todo record, owned by exactly one user.
type Todo struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Normalize trims text fields and fills defaults (medium priority, empty tags).
func (t *Todo) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Tags = normalizeTags(t.Tags)
}

// Validate checks the record before it is persisted.
func (t *Todo) Validate() error {
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if t.OwnerID == "" {
		return NewValidationError("userId", "User ID is required")
	}
	if !t.Priority.Valid() {
		return NewValidationError("priority", "Priority must be low, medium, or high")
	}
	if len(t.Tags) > MaxTodoTags {
		return NewValidationError("tags", "A todo can have at most %d tags", MaxTodoTags)
	}
	return nil
}

// TodoPatch is a partial update. Nil fields are left untouched. Identity,
// ownership and creation time are not part of the patch.
type TodoPatch struct {
	Title       *string
	Description *string
	Completed   *bool
	Priority    *Priority
	Tags        *[]string

	// SetDueDate distinguishes "clear the due date" (true, DueDate nil)
	// from "leave it alone" (false).
	SetDueDate bool
	DueDate    *time.Time
}

// Normalize trims text fields in place.
func (p *TodoPatch) Normalize() {
	if p.Title != nil {
		v := strings.TrimSpace(*p.Title)
		p.Title = &v
	}
	if p.Description != nil {
		v := strings.TrimSpace(*p.Description)
		p.Description = &v
	}
	if p.Tags != nil {
		v := normalizeTags(*p.Tags)
		p.Tags = &v
	}
}

// Validate checks only the fields present in the patch.
func (p *TodoPatch) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return NewValidationError("priority", "Priority must be low, medium, or high")
	}
	if p.Tags != nil && len(*p.Tags) > MaxTodoTags {
		return NewValidationError("tags", "A todo can have at most %d tags", MaxTodoTags)
	}
	return nil
}

// Apply writes the patch onto t and stamps UpdatedAt.
func (p *TodoPatch) Apply(t *Todo, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.SetDueDate {
		if p.DueDate == nil {
			t.DueDate = nil
		} else {
			d := p.DueDate.UTC()
			t.DueDate = &d
		}
	}
	t.UpdatedAt = now
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return NewValidationError("title", "Title is required")
	}
	if utf8.RuneCountInString(title) > MaxTodoTitleLength {
		return NewValidationError("title", "Title must be less than %d characters", MaxTodoTitleLength)
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxTodoDescriptionLength {
		return NewValidationError("description", "Description must be less than %d characters", MaxTodoDescriptionLength)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
