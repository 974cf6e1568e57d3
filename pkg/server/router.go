package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NicolasHaas/gotodo/pkg/auth"
	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

// internalErrorMessage is what clients see for anything unexpected.
const internalErrorMessage = "Internal server error"

// TodoStore is the slice of the datastore the router needs.
type TodoStore interface {
	datastore.TodoReadProvider
	datastore.TodoWriteProvider
}

// Result is the outcome of one routed request: a direct reply for the
// caller and at most one message for the caller's other connections.
type Result struct {
	Reply     protocol.Message
	Broadcast *protocol.Message
	// Err is set when Reply is an error message.
	Err error
}

// Router executes todo operations on behalf of an authenticated caller.
// It holds no per-connection state and never writes to a transport.
type Router struct {
	store   TodoStore
	metrics *Metrics
}

// NewRouter creates a router over store. metrics may be nil.
func NewRouter(store TodoStore, metrics *Metrics) *Router {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Router{store: store, metrics: metrics}
}

// Handle runs req for caller. Errors become an error reply carrying the
// request's correlation ID; they never produce a broadcast.
func (r *Router) Handle(ctx context.Context, caller model.Identity, req protocol.Request) Result {
	res, err := r.dispatch(ctx, caller, req)
	if err != nil {
		msg := ClientMessage(err)
		if msg == internalErrorMessage {
			slog.Error("request failed", "type", req.Type, "user", caller.ID, "err", err)
		}
		return Result{Reply: protocol.NewError(req.ID, msg), Err: err}
	}
	res.Reply.ID = req.ID
	return res
}

func (r *Router) dispatch(ctx context.Context, caller model.Identity, req protocol.Request) (Result, error) {
	switch p := req.Payload.(type) {
	case *pb.ListRequest:
		return r.handleList(ctx, caller, p)
	case *pb.CreateRequest:
		return r.handleCreate(ctx, caller, p)
	case *pb.UpdateRequest:
		return r.handleUpdate(ctx, caller, p)
	case *pb.DeleteRequest:
		return r.handleDelete(ctx, caller, p)
	case *pb.StatsRequest:
		return r.handleStats(ctx, caller)
	case *pb.SearchRequest:
		return r.handleSearch(ctx, caller, p)
	default:
		return Result{}, fmt.Errorf("%w: %s", protocol.ErrUnknownType, req.Type)
	}
}

func (r *Router) handleList(ctx context.Context, caller model.Identity, p *pb.ListRequest) (Result, error) {
	opts := model.ListOptions{
		Completed: p.Completed,
		Priority:  model.Priority(strings.ToLower(strings.TrimSpace(p.Priority))),
		Limit:     p.Limit,
		Offset:    p.Skip,
		SortBy:    model.SortField(p.SortBy),
		SortOrder: model.SortOrder(p.SortOrder),
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	opts.Normalize()

	todos, err := r.store.FindTodosByOwner(ctx, caller.ID, opts)
	if err != nil {
		return Result{}, fmt.Errorf("server: list todos: %w", err)
	}
	return Result{Reply: protocol.Message{
		Type: protocol.TypeTodosListResponse,
		Data: pb.TodosPayload{Todos: todos},
	}}, nil
}

func (r *Router) handleCreate(ctx context.Context, caller model.Identity, p *pb.CreateRequest) (Result, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Result{}, model.NewValidationError("title", "Title is required")
	}

	todo := &model.Todo{
		OwnerID:     caller.ID,
		Title:       p.Title,
		Description: p.Description,
		Completed:   p.Completed,
		Tags:        p.Tags,
	}
	if p.Priority != "" {
		prio, err := model.ParsePriority(p.Priority)
		if err != nil {
			return Result{}, err
		}
		todo.Priority = prio
	}
	if p.DueDate != "" {
		due, err := parseDueDate(p.DueDate)
		if err != nil {
			return Result{}, err
		}
		todo.DueDate = &due
	}
	todo.Normalize()
	if err := todo.Validate(); err != nil {
		return Result{}, err
	}

	if err := r.store.CreateTodo(ctx, todo); err != nil {
		return Result{}, fmt.Errorf("server: create todo: %w", err)
	}
	r.metrics.TodosCreated.Add(1)

	return Result{
		Reply: protocol.Message{Type: protocol.TypeTodosCreateResponse, Data: pb.TodoPayload{Todo: todo}},
		Broadcast: &protocol.Message{
			Type: protocol.TypeTodoCreated,
			Data: pb.TodoPayload{Todo: todo},
		},
	}, nil
}

func (r *Router) handleUpdate(ctx context.Context, caller model.Identity, p *pb.UpdateRequest) (Result, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Result{}, model.NewValidationError("id", "Todo ID is required")
	}
	patch, err := patchFromRequest(p)
	if err != nil {
		return Result{}, err
	}

	ok, err := r.store.UpdateTodoByIDAndOwner(ctx, p.ID, caller.ID, patch)
	if err != nil {
		return Result{}, fmt.Errorf("server: update todo: %w", err)
	}
	if !ok {
		return Result{}, model.ErrNotFoundOrUnauthorized
	}

	todo, err := r.store.GetTodoByIDAndOwner(ctx, p.ID, caller.ID)
	if err != nil {
		return Result{}, fmt.Errorf("server: reload todo: %w", err)
	}
	if todo == nil {
		// Deleted by another connection between the update and the re-read.
		return Result{}, model.ErrNotFoundOrUnauthorized
	}
	r.metrics.TodosUpdated.Add(1)

	return Result{
		Reply: protocol.Message{Type: protocol.TypeTodosUpdateResponse, Data: pb.TodoPayload{Todo: todo}},
		Broadcast: &protocol.Message{
			Type: protocol.TypeTodoUpdated,
			Data: pb.TodoPayload{Todo: todo},
		},
	}, nil
}

func (r *Router) handleDelete(ctx context.Context, caller model.Identity, p *pb.DeleteRequest) (Result, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Result{}, model.NewValidationError("id", "Todo ID is required")
	}

	ok, err := r.store.DeleteTodoByIDAndOwner(ctx, p.ID, caller.ID)
	if err != nil {
		return Result{}, fmt.Errorf("server: delete todo: %w", err)
	}
	if !ok {
		return Result{}, model.ErrNotFoundOrUnauthorized
	}
	r.metrics.TodosDeleted.Add(1)

	return Result{
		Reply: protocol.Message{Type: protocol.TypeTodosDeleteResponse, Data: pb.IDPayload{ID: p.ID}},
		Broadcast: &protocol.Message{
			Type: protocol.TypeTodoDeleted,
			Data: pb.IDPayload{ID: p.ID},
		},
	}, nil
}

func (r *Router) handleStats(ctx context.Context, caller model.Identity) (Result, error) {
	stats, err := r.store.TodoStatsByOwner(ctx, caller.ID)
	if err != nil {
		return Result{}, fmt.Errorf("server: todo stats: %w", err)
	}
	return Result{Reply: protocol.Message{
		Type: protocol.TypeTodosStatsResponse,
		Data: pb.StatsPayload{Stats: stats},
	}}, nil
}

func (r *Router) handleSearch(ctx context.Context, caller model.Identity, p *pb.SearchRequest) (Result, error) {
	if strings.TrimSpace(p.Query) == "" {
		return Result{}, model.NewValidationError("query", "Search query is required")
	}

	todos, err := r.store.SearchTodosByOwner(ctx, caller.ID, p.Query, model.SearchOptions{Limit: p.Limit, Offset: p.Skip})
	if err != nil {
		return Result{}, fmt.Errorf("server: search todos: %w", err)
	}
	return Result{Reply: protocol.Message{
		Type: protocol.TypeTodosSearchResponse,
		Data: pb.SearchPayload{Todos: todos, Query: p.Query},
	}}, nil
}

// patchFromRequest converts the wire update into a validated TodoPatch.
func patchFromRequest(p *pb.UpdateRequest) (model.TodoPatch, error) {
	patch := model.TodoPatch{
		Title:       p.Title,
		Description: p.Description,
		Completed:   p.Completed,
		Tags:        p.Tags,
	}
	if p.Priority != nil {
		prio, err := model.ParsePriority(*p.Priority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &prio
	}
	if len(p.DueDate) > 0 {
		patch.SetDueDate = true
		var raw *string
		if err := json.Unmarshal(p.DueDate, &raw); err != nil {
			return patch, model.NewValidationError("dueDate", "Due date must be a date string or null")
		}
		if raw != nil && *raw != "" {
			due, err := parseDueDate(*raw)
			if err != nil {
				return patch, err
			}
			patch.DueDate = &due
		}
	}
	patch.Normalize()
	if err := patch.Validate(); err != nil {
		return patch, err
	}
	return patch, nil
}

var dueDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDueDate accepts RFC 3339 timestamps and plain dates, returning UTC.
func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.NewValidationError("dueDate", "Due date must be an RFC 3339 timestamp or YYYY-MM-DD")
}

// ClientMessage maps err to the text sent to clients. Anything outside the
// known taxonomy is reported as an internal error.
func ClientMessage(err error) string {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, model.ErrNotFoundOrUnauthorized):
		return model.ErrNotFoundOrUnauthorized.Error()
	case errors.Is(err, protocol.ErrMalformedMessage):
		return protocol.ErrMalformedMessage.Error()
	case errors.Is(err, protocol.ErrAuthRequired):
		return protocol.ErrAuthRequired.Error()
	case errors.Is(err, protocol.ErrTokenRequired):
		return protocol.ErrTokenRequired.Error()
	case errors.Is(err, auth.ErrInvalidCredential):
		return auth.ErrInvalidCredential.Error()
	case errors.Is(err, protocol.ErrUnknownType):
		return err.Error()
	default:
		return internalErrorMessage
	}
}
