package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/gotodo/pkg/model"
)

// Compile-time check: *MemoryStore implements DataProviderFactory.
var _ DataProviderFactory = (*MemoryStore)(nil)

// MemoryStore is an in-memory DataStore for tests and ephemeral servers.
// It mirrors the SQLite provider's validation, ordering and error behavior.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	usersByID map[string]*model.User
	todosByID map[string]*model.Todo
}

// memoryTx shares state with its store. Writes are visible immediately and
// Rollback does not undo them.
type memoryTx struct {
	*MemoryStore
}

func (memoryTx) Rollback() error { return nil }
func (memoryTx) Commit() error   { return nil }

// NewMemory creates a MemoryStore using the wall clock.
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = utcNow
	}
	return &MemoryStore{
		now:       now,
		usersByID: make(map[string]*model.User),
		todosByID: make(map[string]*model.Todo),
	}
}

func (s *MemoryStore) NonTx() DataStore { return s }

func (s *MemoryStore) Tx(context.Context) (DataStoreTx, error) {
	return memoryTx{s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Users ----

func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	if err := model.ValidateUsername(user.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	user.Email = model.NormalizeEmail(user.Email)
	if err := model.ValidateEmail(user.Email); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("datastore: create user: missing password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.usersByID {
		if existing.Username == user.Username || existing.Email == user.Email {
			return ErrDuplicateUser
		}
	}

	now := s.now()
	user.ID = NewID()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	s.usersByID[user.ID] = &stored
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUserByUsernameOrEmail(_ context.Context, identifier string) (*model.User, error) {
	email := model.NormalizeEmail(identifier)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.usersByID {
		if u.Username == identifier || u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// ---- Todos ----

func copyTodo(t *model.Todo) model.Todo {
	out := *t
	out.Tags = append([]string{}, t.Tags...)
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	return out
}

func (s *MemoryStore) CreateTodo(_ context.Context, todo *model.Todo) error {
	todo.Normalize()
	if err := todo.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[todo.OwnerID]; !ok {
		return fmt.Errorf("datastore: create todo: FOREIGN KEY constraint failed")
	}

	now := s.now()
	todo.ID = NewID()
	todo.CreatedAt = now
	todo.UpdatedAt = now
	if todo.DueDate != nil {
		d := todo.DueDate.UTC().Truncate(time.Microsecond)
		todo.DueDate = &d
	}
	stored := copyTodo(todo)
	s.todosByID[todo.ID] = &stored
	return nil
}

func (s *MemoryStore) GetTodoByIDAndOwner(_ context.Context, id, ownerID string) (*model.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.todosByID[id]
	if !ok || t.OwnerID != ownerID {
		return nil, nil
	}
	out := copyTodo(t)
	return &out, nil
}

func (s *MemoryStore) ownedLocked(ownerID string, keep func(*model.Todo) bool) []model.Todo {
	var out []model.Todo
	for _, t := range s.todosByID {
		if t.OwnerID == ownerID && keep(t) {
			out = append(out, copyTodo(t))
		}
	}
	return out
}

func page(todos []model.Todo, limit, offset int) []model.Todo {
	if offset >= len(todos) {
		return []model.Todo{}
	}
	todos = todos[offset:]
	if len(todos) > limit {
		todos = todos[:limit]
	}
	return todos
}

// compareTodos orders by field ascending with ties broken by ID. Missing due
// dates sort first, as NULL does in SQLite.
func compareTodos(a, b *model.Todo, field model.SortField) int {
	var c int
	switch field {
	case model.SortByUpdatedAt:
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	case model.SortByTitle:
		c = strings.Compare(a.Title, b.Title)
	case model.SortByPriority:
		c = a.Priority.Rank() - b.Priority.Rank()
	case model.SortByDueDate:
		switch {
		case a.DueDate == nil && b.DueDate == nil:
		case a.DueDate == nil:
			c = -1
		case b.DueDate == nil:
			c = 1
		default:
			c = a.DueDate.Compare(*b.DueDate)
		}
	case model.SortByCompleted:
		c = boolToInt(a.Completed) - boolToInt(b.Completed)
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	return c
}

func (s *MemoryStore) FindTodosByOwner(_ context.Context, ownerID string, opts model.ListOptions) ([]model.Todo, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Normalize()

	s.mu.RLock()
	todos := s.ownedLocked(ownerID, func(t *model.Todo) bool {
		if opts.Completed != nil && t.Completed != *opts.Completed {
			return false
		}
		return opts.Priority == "" || t.Priority == opts.Priority
	})
	s.mu.RUnlock()

	sort.Slice(todos, func(i, j int) bool {
		c := compareTodos(&todos[i], &todos[j], opts.SortBy)
		if opts.SortOrder == model.SortDescending {
			return c > 0
		}
		return c < 0
	})
	return page(todos, opts.Limit, opts.Offset), nil
}

func (s *MemoryStore) TodoStatsByOwner(_ context.Context, ownerID string) (model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st model.Stats
	for _, t := range s.todosByID {
		if t.OwnerID == ownerID {
			st.Add(t)
		}
	}
	return st, nil
}

func (s *MemoryStore) SearchTodosByOwner(_ context.Context, ownerID, term string, opts model.SearchOptions) ([]model.Todo, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, model.NewValidationError("query", "Search query is required")
	}
	opts.Normalize()
	needle := strings.ToLower(term)
	contains := func(v string) bool { return strings.Contains(strings.ToLower(v), needle) }

	s.mu.RLock()
	todos := s.ownedLocked(ownerID, func(t *model.Todo) bool {
		if contains(t.Title) || contains(t.Description) {
			return true
		}
		for _, tag := range t.Tags {
			if contains(tag) {
				return true
			}
		}
		return false
	})
	s.mu.RUnlock()

	sort.Slice(todos, func(i, j int) bool {
		return compareTodos(&todos[i], &todos[j], model.SortByCreatedAt) > 0
	})
	return page(todos, opts.Limit, opts.Offset), nil
}

func (s *MemoryStore) UpdateTodoByIDAndOwner(_ context.Context, id, ownerID string, patch model.TodoPatch) (bool, error) {
	patch.Normalize()
	if err := patch.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.todosByID[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	if patch.SetDueDate && patch.DueDate != nil {
		d := patch.DueDate.UTC().Truncate(time.Microsecond)
		patch.DueDate = &d
	}
	patch.Apply(t, s.now())
	return true, nil
}

func (s *MemoryStore) DeleteTodoByIDAndOwner(_ context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.todosByID[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	delete(s.todosByID, id)
	return true, nil
}
