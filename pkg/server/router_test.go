package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gotodo/pkg/auth"
	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

var (
	owner    = model.Identity{ID: "01OWNER", Username: "owner", Email: "owner@example.com"}
	stranger = model.Identity{ID: "01STRANGER", Username: "stranger", Email: "stranger@example.com"}
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func route(t *testing.T, r *Router, caller model.Identity, typ, data string) Result {
	t.Helper()
	env, err := protocol.Decode([]byte(fmt.Sprintf(`{"type":%q,"data":%s,"id":"req"}`, typ, data)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req, err := protocol.ParseRequest(env)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	return r.Handle(context.Background(), caller, req)
}

func replyText(t *testing.T, res Result) string {
	t.Helper()
	if res.Reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %s, want error", res.Reply.Type)
	}
	return errorText(t, res.Reply)
}

func TestRouterValidation(t *testing.T) {
	r := NewRouter(datastore.NewMemory(), nil)

	type tcase struct {
		typ  string
		data string
		want string
	}

	tcases := map[string]tcase{
		"create_missing_title":    {protocol.TypeTodosCreate, `{}`, "Title is required"},
		"create_blank_title":      {protocol.TypeTodosCreate, `{"title":"   "}`, "Title is required"},
		"create_bad_priority":     {protocol.TypeTodosCreate, `{"title":"x","priority":"urgent"}`, "Priority must be low, medium, or high"},
		"create_bad_due_date":     {protocol.TypeTodosCreate, `{"title":"x","dueDate":"tomorrow"}`, "Due date must be an RFC 3339 timestamp or YYYY-MM-DD"},
		"create_title_too_long":   {protocol.TypeTodosCreate, fmt.Sprintf(`{"title":%q}`, longString(201)), ""},
		"create_desc_too_long":    {protocol.TypeTodosCreate, fmt.Sprintf(`{"title":"x","description":%q}`, longString(1001)), ""},
		"update_missing_id":       {protocol.TypeTodosUpdate, `{"title":"x"}`, "Todo ID is required"},
		"update_blank_title":      {protocol.TypeTodosUpdate, `{"id":"x","title":""}`, "Title is required"},
		"update_title_too_long":   {protocol.TypeTodosUpdate, fmt.Sprintf(`{"id":"x","title":%q}`, longString(201)), ""},
		"update_bad_due_date":     {protocol.TypeTodosUpdate, `{"id":"x","dueDate":42}`, "Due date must be a date string or null"},
		"update_unknown_todo":     {protocol.TypeTodosUpdate, `{"id":"nope","completed":true}`, "Todo not found or not authorized"},
		"delete_missing_id":       {protocol.TypeTodosDelete, `{}`, "Todo ID is required"},
		"delete_unknown_todo":     {protocol.TypeTodosDelete, `{"id":"nope"}`, "Todo not found or not authorized"},
		"search_missing_query":    {protocol.TypeTodosSearch, `{}`, "Search query is required"},
		"search_blank_query":      {protocol.TypeTodosSearch, `{"query":"  "}`, "Search query is required"},
		"list_bad_sort_order":     {protocol.TypeTodosList, `{"sortOrder":2}`, "Sort order must be 1 or -1"},
		"list_bad_priority":       {protocol.TypeTodosList, `{"priority":"urgent"}`, "Priority must be low, medium, or high"},
		"list_unknown_sort_field": {protocol.TypeTodosList, `{"sortBy":"color"}`, ""},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			res := route(t, r, owner, tc.typ, tc.data)
			if res.Err == nil {
				t.Fatalf("expected error, got reply %s", res.Reply.Type)
			}
			if res.Broadcast != nil {
				t.Error("failed request produced a broadcast")
			}
			if res.Reply.ID != "req" {
				t.Errorf("reply id = %q, want req", res.Reply.ID)
			}
			got := replyText(t, res)
			if tc.want != "" && got != tc.want {
				t.Errorf("message = %q, want %q", got, tc.want)
			}
			if got == internalErrorMessage {
				t.Error("validation failure reported as internal error")
			}
		})
	}
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestRouterRoundTrip(t *testing.T) {
	r := NewRouter(datastore.NewMemory(), nil)

	res := route(t, r, owner, protocol.TypeTodosCreate,
		`{"title":"  Buy milk ","priority":"HIGH","dueDate":"2026-03-01","tags":["home","Home","errands"]}`)
	if res.Err != nil {
		t.Fatalf("create: %v", res.Err)
	}
	if res.Reply.Type != protocol.TypeTodosCreateResponse || res.Broadcast == nil || res.Broadcast.Type != protocol.TypeTodoCreated {
		t.Fatalf("create result = %+v", res)
	}
	created := res.Reply.Data.(pb.TodoPayload).Todo
	if created.Title != "Buy milk" || created.Priority != model.PriorityHigh || created.OwnerID != owner.ID {
		t.Errorf("created = %+v", created)
	}
	if created.DueDate == nil || !created.DueDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dueDate = %v", created.DueDate)
	}

	res = route(t, r, owner, protocol.TypeTodosList, `{}`)
	todos := res.Reply.Data.(pb.TodosPayload).Todos
	if len(todos) != 1 || todos[0].ID != created.ID {
		t.Fatalf("list after create = %+v", todos)
	}
	if res.Broadcast != nil {
		t.Error("list produced a broadcast")
	}

	res = route(t, r, owner, protocol.TypeTodosUpdate,
		fmt.Sprintf(`{"id":%q,"completed":true,"dueDate":null}`, created.ID))
	if res.Err != nil {
		t.Fatalf("update: %v", res.Err)
	}
	updated := res.Reply.Data.(pb.TodoPayload).Todo
	if !updated.Completed || updated.DueDate != nil || updated.Title != "Buy milk" {
		t.Errorf("updated = %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if res.Broadcast == nil || res.Broadcast.Type != protocol.TypeTodoUpdated {
		t.Errorf("update broadcast = %+v", res.Broadcast)
	}

	res = route(t, r, owner, protocol.TypeTodosList, `{"completed":true}`)
	if got := res.Reply.Data.(pb.TodosPayload).Todos; len(got) != 1 || !got[0].Completed {
		t.Errorf("list completed = %+v", got)
	}

	res = route(t, r, owner, protocol.TypeTodosStats, `{}`)
	stats := res.Reply.Data.(pb.StatsPayload).Stats
	if diff := cmp.Diff(model.Stats{Total: 1, Completed: 1, HighPriority: 1}, stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}

	res = route(t, r, owner, protocol.TypeTodosSearch, `{"query":"milk"}`)
	search := res.Reply.Data.(pb.SearchPayload)
	if len(search.Todos) != 1 || search.Query != "milk" {
		t.Errorf("search = %+v", search)
	}

	res = route(t, r, owner, protocol.TypeTodosDelete, fmt.Sprintf(`{"id":%q}`, created.ID))
	if res.Err != nil {
		t.Fatalf("delete: %v", res.Err)
	}
	if diff := cmp.Diff(pb.IDPayload{ID: created.ID}, res.Reply.Data); diff != "" {
		t.Errorf("delete reply (-want +got):\n%s", diff)
	}
	if res.Broadcast == nil || res.Broadcast.Type != protocol.TypeTodoDeleted {
		t.Errorf("delete broadcast = %+v", res.Broadcast)
	}

	res = route(t, r, owner, protocol.TypeTodosList, `{}`)
	if got := res.Reply.Data.(pb.TodosPayload).Todos; len(got) != 0 {
		t.Errorf("list after delete = %+v", got)
	}
}

func TestRouterOwnership(t *testing.T) {
	r := NewRouter(datastore.NewMemory(), nil)

	res := route(t, r, owner, protocol.TypeTodosCreate, `{"title":"secret plan"}`)
	id := res.Reply.Data.(pb.TodoPayload).Todo.ID

	tcases := map[string]struct {
		typ  string
		data string
	}{
		"update": {protocol.TypeTodosUpdate, fmt.Sprintf(`{"id":%q,"title":"hijacked"}`, id)},
		"delete": {protocol.TypeTodosDelete, fmt.Sprintf(`{"id":%q}`, id)},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			res := route(t, r, stranger, tc.typ, tc.data)
			if got := replyText(t, res); got != "Todo not found or not authorized" {
				t.Errorf("message = %q", got)
			}
		})
	}

	res = route(t, r, stranger, protocol.TypeTodosList, `{}`)
	if got := res.Reply.Data.(pb.TodosPayload).Todos; len(got) != 0 {
		t.Errorf("stranger sees %d todos", len(got))
	}
	res = route(t, r, stranger, protocol.TypeTodosSearch, `{"query":"secret"}`)
	if got := res.Reply.Data.(pb.SearchPayload).Todos; len(got) != 0 {
		t.Errorf("stranger finds %d todos", len(got))
	}

	res = route(t, r, owner, protocol.TypeTodosList, `{}`)
	todos := res.Reply.Data.(pb.TodosPayload).Todos
	if len(todos) != 1 || todos[0].Title != "secret plan" {
		t.Errorf("owner's todo changed: %+v", todos)
	}
}

// failingStore fails every operation.
type failingStore struct{ err error }

func (s failingStore) FindTodosByOwner(context.Context, string, model.ListOptions) ([]model.Todo, error) {
	return nil, s.err
}

func (s failingStore) GetTodoByIDAndOwner(context.Context, string, string) (*model.Todo, error) {
	return nil, s.err
}

func (s failingStore) TodoStatsByOwner(context.Context, string) (model.Stats, error) {
	return model.Stats{}, s.err
}

func (s failingStore) SearchTodosByOwner(context.Context, string, string, model.SearchOptions) ([]model.Todo, error) {
	return nil, s.err
}

func (s failingStore) CreateTodo(context.Context, *model.Todo) error { return s.err }

func (s failingStore) UpdateTodoByIDAndOwner(context.Context, string, string, model.TodoPatch) (bool, error) {
	return false, s.err
}

func (s failingStore) DeleteTodoByIDAndOwner(context.Context, string, string) (bool, error) {
	return false, s.err
}

func TestRouterInternalError(t *testing.T) {
	r := NewRouter(failingStore{err: errors.New("database is locked")}, nil)

	tcases := map[string]struct {
		typ  string
		data string
	}{
		"list":   {protocol.TypeTodosList, `{}`},
		"create": {protocol.TypeTodosCreate, `{"title":"x"}`},
		"update": {protocol.TypeTodosUpdate, `{"id":"x","completed":true}`},
		"delete": {protocol.TypeTodosDelete, `{"id":"x"}`},
		"stats":  {protocol.TypeTodosStats, `{}`},
		"search": {protocol.TypeTodosSearch, `{"query":"x"}`},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			res := route(t, r, owner, tc.typ, tc.data)
			if got := replyText(t, res); got != internalErrorMessage {
				t.Errorf("message = %q, want %q", got, internalErrorMessage)
			}
			if res.Broadcast != nil {
				t.Error("failed request produced a broadcast")
			}
		})
	}
}

func TestClientMessage(t *testing.T) {
	tcases := map[string]struct {
		err  error
		want string
	}{
		"validation":   {model.NewValidationError("title", "Title is required"), "Title is required"},
		"not_found":    {fmt.Errorf("wrapped: %w", model.ErrNotFoundOrUnauthorized), "Todo not found or not authorized"},
		"malformed":    {fmt.Errorf("protocol: x: %w", protocol.ErrMalformedMessage), "Invalid message format"},
		"auth":         {protocol.ErrAuthRequired, "Authentication required"},
		"token":        {protocol.ErrTokenRequired, "Token required for authentication"},
		"credential":   {fmt.Errorf("auth: expired: %w", auth.ErrInvalidCredential), "Authentication failed"},
		"unknown_type": {fmt.Errorf("%w: foo", protocol.ErrUnknownType), "Unknown message type: foo"},
		"internal":     {errors.New("disk full"), internalErrorMessage},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := ClientMessage(tc.err); got != tc.want {
				t.Errorf("ClientMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPatchFromRequestDueDate(t *testing.T) {
	tcases := map[string]struct {
		raw     json.RawMessage
		wantSet bool
		wantNil bool
	}{
		"absent":      {raw: nil, wantSet: false, wantNil: true},
		"null_clears": {raw: json.RawMessage(`null`), wantSet: true, wantNil: true},
		"empty_clear": {raw: json.RawMessage(`""`), wantSet: true, wantNil: true},
		"date":        {raw: json.RawMessage(`"2026-05-01"`), wantSet: true},
		"timestamp":   {raw: json.RawMessage(`"2026-05-01T10:00:00+02:00"`), wantSet: true},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			patch, err := patchFromRequest(&pb.UpdateRequest{ID: "x", Title: strPtr("t"), Completed: boolPtr(false), DueDate: tc.raw})
			if err != nil {
				t.Fatalf("patchFromRequest: %v", err)
			}
			if patch.SetDueDate != tc.wantSet {
				t.Errorf("SetDueDate = %v, want %v", patch.SetDueDate, tc.wantSet)
			}
			if (patch.DueDate == nil) != tc.wantNil {
				t.Errorf("DueDate = %v, want nil: %v", patch.DueDate, tc.wantNil)
			}
			if patch.DueDate != nil && patch.DueDate.Location() != time.UTC {
				t.Errorf("DueDate location = %v, want UTC", patch.DueDate.Location())
			}
		})
	}
}
