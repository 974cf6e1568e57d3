// Package pb defines the JSON payloads carried in the data field of
// WebSocket envelopes.
package pb

import (
	"encoding/json"

	"github.com/NicolasHaas/gotodo/pkg/model"
)

// ---- Client -> Server ----

// AuthRequest authenticates a connection with a bearer token.
type AuthRequest struct {
	Token string `json:"token"`
}

// PingRequest carries no data.
type PingRequest struct{}

// ListRequest filters and pages the caller's todos.
// Zero values fall back to limit 50, createdAt descending.
type ListRequest struct {
	Completed *bool  `json:"completed,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Skip      int    `json:"skip,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder int    `json:"sortOrder,omitempty"`
}

// CreateRequest creates a todo owned by the caller.
type CreateRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"` // RFC 3339 or YYYY-MM-DD
	Tags        []string `json:"tags,omitempty"`
	Completed   bool     `json:"completed,omitempty"`
}

// UpdateRequest patches the todo named by ID. Absent fields are untouched.
// DueDate is kept raw so that an explicit null (clear) can be told apart
// from an absent field.
type UpdateRequest struct {
	ID          string          `json:"id"`
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Completed   *bool           `json:"completed,omitempty"`
	Priority    *string         `json:"priority,omitempty"`
	Tags        *[]string       `json:"tags,omitempty"`
	DueDate     json.RawMessage `json:"dueDate,omitempty"`
}

// DeleteRequest deletes the todo named by ID.
type DeleteRequest struct {
	ID string `json:"id"`
}

// StatsRequest carries no data.
type StatsRequest struct{}

// SearchRequest runs a case-insensitive substring search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Skip  int    `json:"skip,omitempty"`
}

// ---- Server -> Client ----

// Connected is the greeting sent on every new connection.
type Connected struct {
	Message      string `json:"message"`
	RequiresAuth bool   `json:"requiresAuth"`
	Version      string `json:"version,omitempty"`
}

// AuthSuccess reports the identity bound to the connection.
type AuthSuccess struct {
	User model.Identity `json:"user"`
}

// ErrorPayload is the data of auth_error and error messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TodosPayload is the data of todos_list_response.
type TodosPayload struct {
	Todos []model.Todo `json:"todos"`
}

// TodoPayload is the data of create/update replies and broadcasts.
type TodoPayload struct {
	Todo *model.Todo `json:"todo"`
}

// IDPayload is the data of delete replies and broadcasts.
type IDPayload struct {
	ID string `json:"id"`
}

// StatsPayload is the data of todos_stats_response.
type StatsPayload struct {
	Stats model.Stats `json:"stats"`
}

// SearchPayload is the data of todos_search_response.
type SearchPayload struct {
	Todos []model.Todo `json:"todos"`
	Query string       `json:"query"`
}
