package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/gotodo/pkg/model"
)

// ErrDuplicateUser is returned when a username or email is already taken.
var ErrDuplicateUser = errors.New("datastore: username or email already exists")

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for users and todos.
// Every todo operation is scoped by the owner's user ID; a caller can never
// read or mutate another user's records, even with a valid record ID.
type DataStore interface {
	UserReadProvider
	UserWriteProvider

	TodoReadProvider
	TodoWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type UserReadProvider interface {
	// GetUserByID returns (nil, nil) if not found.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetUserByUsernameOrEmail matches either column. Returns (nil, nil) if not found.
	GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type UserWriteProvider interface {
	// CreateUser assigns ID and timestamps. Returns ErrDuplicateUser on conflict.
	CreateUser(ctx context.Context, user *model.User) error
}

type TodoReadProvider interface {
	FindTodosByOwner(ctx context.Context, ownerID string, opts model.ListOptions) ([]model.Todo, error)
	// GetTodoByIDAndOwner returns (nil, nil) if the todo is missing or owned by someone else.
	GetTodoByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Todo, error)
	TodoStatsByOwner(ctx context.Context, ownerID string) (model.Stats, error)
	SearchTodosByOwner(ctx context.Context, ownerID, term string, opts model.SearchOptions) ([]model.Todo, error)
}

type TodoWriteProvider interface {
	// CreateTodo validates, assigns ID and timestamps, and inserts.
	CreateTodo(ctx context.Context, todo *model.Todo) error
	// UpdateTodoByIDAndOwner applies patch and touches updatedAt. It reports
	// false when no todo with that (id, owner) pair exists.
	UpdateTodoByIDAndOwner(ctx context.Context, id, ownerID string, patch model.TodoPatch) (bool, error)
	// DeleteTodoByIDAndOwner reports false when nothing was deleted.
	DeleteTodoByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)
}
