package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/NicolasHaas/gotodo/pkg/auth"
	"github.com/NicolasHaas/gotodo/pkg/logging"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
	"github.com/NicolasHaas/gotodo/pkg/version"
)

type ctxKey int

const identityKey ctxKey = iota

// apiResponse is the envelope of every REST response.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Handler returns the HTTP handler serving the REST API, /health,
// /metrics and the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logging.AccessLog)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/metrics").HandlerFunc(s.handleMetrics)
	r.Path(s.cfg.WSPath).HandlerFunc(s.handleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.countRequests)
	api.Methods(http.MethodPost).Path("/auth/register").HandlerFunc(s.handleRegister)
	api.Methods(http.MethodPost).Path("/auth/login").HandlerFunc(s.handleLogin)
	api.Methods(http.MethodGet).Path("/auth/me").Handler(s.requireAuth(s.handleMe))

	api.Methods(http.MethodGet).Path("/todos").Handler(s.requireAuth(s.handleListTodos))
	api.Methods(http.MethodPost).Path("/todos").Handler(s.requireAuth(s.handleCreateTodo))
	api.Methods(http.MethodGet).Path("/todos/stats/summary").Handler(s.requireAuth(s.handleTodoStats))
	api.Methods(http.MethodGet).Path("/todos/search/{query}").Handler(s.requireAuth(s.handleSearchTodos))
	api.Methods(http.MethodGet).Path("/todos/{id}").Handler(s.requireAuth(s.handleGetTodo))
	api.Methods(http.MethodPut).Path("/todos/{id}").Handler(s.requireAuth(s.handleUpdateTodo))
	api.Methods(http.MethodDelete).Path("/todos/{id}").Handler(s.requireAuth(s.handleDeleteTodo))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HTTPRequests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token and stores the identity in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidCredential) {
				slog.Error("credential verification error", "err", err)
				writeError(w, http.StatusInternalServerError, internalErrorMessage)
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func identityFrom(ctx context.Context) model.Identity {
	identity, _ := ctx.Value(identityKey).(model.Identity)
	return identity
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		Message:   "Todo API is running",
		Timestamp: time.Now().UTC(),
		Version:   version.String(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	sess, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	s.metrics.UsersRegistered.Add(1)
	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: sess, Message: "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	sess, err := s.accounts.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: sess, Message: "Login successful"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data:    pb.AuthSuccess{User: identityFrom(r.Context())},
	})
}

func (s *Server) writeAccountError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidLogin):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("account request failed", "err", err)
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
	}
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &pb.ListRequest{
		Priority:  q.Get("priority"),
		Limit:     queryInt(q.Get("limit")),
		Skip:      queryInt(q.Get("skip")),
		SortBy:    q.Get("sortBy"),
		SortOrder: queryInt(q.Get("sortOrder")),
	}
	switch q.Get("completed") {
	case "true":
		v := true
		req.Completed = &v
	case "false":
		v := false
		req.Completed = &v
	}
	s.serveRouted(w, r, protocol.TypeTodosList, req, http.StatusOK, "Todos retrieved successfully")
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	req := &pb.CreateRequest{}
	if !s.decodeBody(w, r, req) {
		return
	}
	s.serveRouted(w, r, protocol.TypeTodosCreate, req, http.StatusCreated, "Todo created successfully")
}

func (s *Server) handleTodoStats(w http.ResponseWriter, r *http.Request) {
	s.serveRouted(w, r, protocol.TypeTodosStats, &pb.StatsRequest{}, http.StatusOK, "Todo statistics retrieved successfully")
}

func (s *Server) handleSearchTodos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &pb.SearchRequest{
		Query: mux.Vars(r)["query"],
		Limit: queryInt(q.Get("limit")),
		Skip:  queryInt(q.Get("skip")),
	}
	s.serveRouted(w, r, protocol.TypeTodosSearch, req, http.StatusOK, "Search completed successfully")
}

func (s *Server) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())
	todo, err := s.store.NonTx().GetTodoByIDAndOwner(r.Context(), mux.Vars(r)["id"], caller.ID)
	if err != nil {
		slog.Error("get todo failed", "user", caller.ID, "err", err)
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	if todo == nil {
		writeError(w, http.StatusNotFound, model.ErrNotFoundOrUnauthorized.Error())
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: pb.TodoPayload{Todo: todo}, Message: "Todo retrieved successfully"})
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	req := &pb.UpdateRequest{}
	if !s.decodeBody(w, r, req) {
		return
	}
	req.ID = mux.Vars(r)["id"]
	s.serveRouted(w, r, protocol.TypeTodosUpdate, req, http.StatusOK, "Todo updated successfully")
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	req := &pb.DeleteRequest{ID: mux.Vars(r)["id"]}
	s.serveRouted(w, r, protocol.TypeTodosDelete, req, http.StatusOK, "Todo deleted successfully")
}

// serveRouted runs a todo operation through the Router, so REST and
// WebSocket share semantics. Mutations are broadcast to every live
// connection of the caller.
func (s *Server) serveRouted(w http.ResponseWriter, r *http.Request, typ string, payload any, okStatus int, okMessage string) {
	caller := identityFrom(r.Context())
	res := s.router.Handle(r.Context(), caller, protocol.Request{Type: typ, Payload: payload})
	if res.Err != nil {
		writeError(w, statusFor(res.Err), ClientMessage(res.Err))
		return
	}
	if res.Broadcast != nil {
		s.registry.Broadcast(caller.ID, *res.Broadcast, nil)
	}
	writeJSON(w, okStatus, apiResponse{Success: true, Data: res.Reply.Data, Message: okMessage})
}

func statusFor(err error) int {
	switch {
	case model.IsValidationError(err), errors.Is(err, protocol.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFoundOrUnauthorized):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a size-limited JSON body into v, writing a 400 on
// failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// queryInt parses a query parameter, treating anything unparsable as 0 so
// the router's defaults apply.
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}
