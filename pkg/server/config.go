package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gotodo/pkg/crypto"
	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/model"
)

// LoadConfig reads a YAML config file over DefaultConfig. Fields absent
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// TodoYAML represents a todo in seed files and exports.
type TodoYAML struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Priority    string   `yaml:"priority,omitempty"`
	Completed   bool     `yaml:"completed,omitempty"`
	DueDate     string   `yaml:"due_date,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	CreatedAt   string   `yaml:"created_at,omitempty"`
}

// UserYAML represents a user and their todos in a seed file.
type UserYAML struct {
	Username string     `yaml:"username"`
	Email    string     `yaml:"email"`
	Password string     `yaml:"password,omitempty"`
	Todos    []TodoYAML `yaml:"todos,omitempty"`
}

// SeedConfig is the top-level YAML of a seed file.
type SeedConfig struct {
	Users []UserYAML `yaml:"users"`
}

// TodosExport is the top-level YAML of a todo export.
type TodosExport struct {
	User  string     `yaml:"user"`
	Todos []TodoYAML `yaml:"todos"`
}

// SeedResult counts what an import created.
type SeedResult struct {
	Users int
	Todos int
}

// LoadSeedFromYAML reads a seed file and imports it into the store.
func LoadSeedFromYAML(ctx context.Context, path string, st datastore.DataProviderFactory) (SeedResult, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return SeedResult{}, fmt.Errorf("read seed: %w", err)
	}
	return ImportSeedYAML(ctx, data, st)
}

// ImportSeedYAML creates the users of the seed and their todos in one
// transaction. Users that already exist (by username or email) are
// skipped together with their todos, so importing twice is harmless.
func ImportSeedYAML(ctx context.Context, data []byte, st datastore.DataProviderFactory) (SeedResult, error) {
	var cfg SeedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SeedResult{}, fmt.Errorf("parse seed: %w", err)
	}

	tx, err := st.Tx(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res SeedResult
	for _, u := range cfg.Users {
		created, err := seedUser(ctx, tx, u)
		if err != nil {
			return SeedResult{}, fmt.Errorf("seed user %q: %w", u.Username, err)
		}
		if created == nil {
			slog.Info("seed user exists, skipping", "user", u.Username)
			continue
		}
		res.Users++

		for _, t := range u.Todos {
			todo, err := todoFromYAML(created.ID, t)
			if err != nil {
				return SeedResult{}, fmt.Errorf("seed todo %q: %w", t.Title, err)
			}
			if err := tx.CreateTodo(ctx, todo); err != nil {
				return SeedResult{}, fmt.Errorf("seed todo %q: %w", t.Title, err)
			}
			res.Todos++
		}
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("seed: commit: %w", err)
	}
	slog.Info("imported seed data", "users", res.Users, "todos", res.Todos)
	return res, nil
}

// seedUser creates u, or returns (nil, nil) when it already exists.
func seedUser(ctx context.Context, tx datastore.DataStore, u UserYAML) (*model.User, error) {
	username := strings.TrimSpace(u.Username)
	email := model.NormalizeEmail(u.Email)
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := model.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := model.ValidatePassword(u.Password); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(u.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{Username: username, Email: email, PasswordHash: hash}
	if err := tx.CreateUser(ctx, user); err != nil {
		if errors.Is(err, datastore.ErrDuplicateUser) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func todoFromYAML(ownerID string, t TodoYAML) (*model.Todo, error) {
	todo := &model.Todo{
		OwnerID:     ownerID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Tags:        t.Tags,
	}
	if t.Priority != "" {
		prio, err := model.ParsePriority(t.Priority)
		if err != nil {
			return nil, err
		}
		todo.Priority = prio
	}
	if t.DueDate != "" {
		due, err := parseDueDate(t.DueDate)
		if err != nil {
			return nil, err
		}
		todo.DueDate = &due
	}
	todo.Normalize()
	return todo, todo.Validate()
}

// ExportTodosYAML exports all todos of the user named by identifier
// (username or email), oldest first.
func ExportTodosYAML(ctx context.Context, st datastore.DataProviderFactory, identifier string) ([]byte, error) {
	user, err := st.NonTx().GetUserByUsernameOrEmail(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("export: user %q not found", identifier)
	}

	export := TodosExport{User: user.Username, Todos: []TodoYAML{}}
	for offset := 0; ; offset += model.MaxPageLimit {
		page, err := st.NonTx().FindTodosByOwner(ctx, user.ID, model.ListOptions{
			Limit:     model.MaxPageLimit,
			Offset:    offset,
			SortBy:    model.SortByCreatedAt,
			SortOrder: model.SortAscending,
		})
		if err != nil {
			return nil, err
		}
		for _, t := range page {
			export.Todos = append(export.Todos, todoToYAML(t))
		}
		if len(page) < model.MaxPageLimit {
			break
		}
	}
	return yaml.Marshal(&export)
}

func todoToYAML(t model.Todo) TodoYAML {
	out := TodoYAML{
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		Tags:        t.Tags,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.DueDate != nil {
		out.DueDate = t.DueDate.UTC().Format(time.RFC3339)
	}
	return out
}
