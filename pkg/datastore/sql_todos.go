package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NicolasHaas/gotodo/pkg/model"
)

const todoColumns = "id, user_id, title, description, completed, priority, due_date, tags, created_at, updated_at"

// sortColumns maps wire sort fields to SQL expressions. Only these are ever
// interpolated into a query.
var sortColumns = map[model.SortField]string{
	model.SortByCreatedAt: "created_at",
	model.SortByUpdatedAt: "updated_at",
	model.SortByTitle:     "title",
	model.SortByPriority:  "CASE priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END",
	model.SortByDueDate:   "due_date",
	model.SortByCompleted: "completed",
}

func scanTodo(row rowScanner) (*model.Todo, error) {
	t := &model.Todo{}
	var (
		completed            int
		priority             string
		dueDate              sql.NullString
		tags                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &completed, &priority,
		&dueDate, &tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Completed = completed != 0
	t.Priority = model.Priority(priority)
	if dueDate.Valid {
		d, err := parseDBTime(dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due date: %w", err)
		}
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	var err error
	if t.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseDBTime(updatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func scanTodos(rows *sql.Rows) ([]model.Todo, error) {
	defer func() { _ = rows.Close() }()
	todos := []model.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, *t)
	}
	return todos, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateTodo normalizes, validates and inserts todo. ID and timestamps are
// assigned here; any values the caller set are overwritten.
func (s *baseProvider) CreateTodo(ctx context.Context, todo *model.Todo) error {
	todo.Normalize()
	if err := todo.Validate(); err != nil {
		return err
	}
	tags, err := encodeTags(todo.Tags)
	if err != nil {
		return fmt.Errorf("datastore: create todo: %w", err)
	}
	var due any
	if todo.DueDate != nil {
		due = formatDBTime(*todo.DueDate)
	}

	now := s.now()
	id := NewID()
	_, err = s.ExecContext(ctx,
		"INSERT INTO todos ("+todoColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, todo.OwnerID, todo.Title, todo.Description, boolToInt(todo.Completed), string(todo.Priority),
		due, tags, formatDBTime(now), formatDBTime(now))
	if err != nil {
		return fmt.Errorf("datastore: create todo: %w", err)
	}
	todo.ID = id
	todo.CreatedAt = now
	todo.UpdatedAt = now
	if todo.DueDate != nil {
		d := todo.DueDate.UTC().Truncate(time.Microsecond)
		todo.DueDate = &d
	}
	return nil
}

// FindTodosByOwner lists the owner's todos with filters, sorting and paging.
func (s *baseProvider) FindTodosByOwner(ctx context.Context, ownerID string, opts model.ListOptions) ([]model.Todo, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Normalize()

	where := []string{"user_id = ?"}
	args := []any{ownerID}
	if opts.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, boolToInt(*opts.Completed))
	}
	if opts.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(opts.Priority))
	}

	dir := "DESC"
	if opts.SortOrder == model.SortAscending {
		dir = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM todos WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		todoColumns, strings.Join(where, " AND "), sortColumns[opts.SortBy], dir, dir)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: find todos: %w", err)
	}
	todos, err := scanTodos(rows)
	if err != nil {
		return nil, fmt.Errorf("datastore: scan todos: %w", err)
	}
	return todos, nil
}

// GetTodoByIDAndOwner returns (nil, nil) when the pair does not match.
func (s *baseProvider) GetTodoByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Todo, error) {
	t, err := scanTodo(s.QueryRowContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE id = ? AND user_id = ?", id, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get todo: %w", err)
	}
	return t, nil
}

// TodoStatsByOwner aggregates the owner's todos in one query.
func (s *baseProvider) TodoStatsByOwner(ctx context.Context, ownerID string) (model.Stats, error) {
	var st model.Stats
	err := s.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN priority = 'high' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN priority = 'medium' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN priority = 'low' THEN 1 ELSE 0 END), 0)
		FROM todos WHERE user_id = ?`, ownerID).
		Scan(&st.Total, &st.Completed, &st.Pending, &st.HighPriority, &st.MediumPriority, &st.LowPriority)
	if err != nil {
		return model.Stats{}, fmt.Errorf("datastore: todo stats: %w", err)
	}
	return st, nil
}

// escapeLike escapes LIKE metacharacters so term matches literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// SearchTodosByOwner matches term case-insensitively against title,
// description and tags, newest first.
func (s *baseProvider) SearchTodosByOwner(ctx context.Context, ownerID, term string, opts model.SearchOptions) ([]model.Todo, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, model.NewValidationError("query", "Search query is required")
	}
	opts.Normalize()

	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	rows, err := s.QueryContext(ctx, `
		SELECT `+todoColumns+` FROM todos
		WHERE user_id = ? AND (
			lower(title) LIKE ? ESCAPE '\'
			OR lower(description) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(todos.tags) WHERE lower(json_each.value) LIKE ? ESCAPE '\')
		)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		ownerID, pattern, pattern, pattern, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("datastore: search todos: %w", err)
	}
	todos, err := scanTodos(rows)
	if err != nil {
		return nil, fmt.Errorf("datastore: scan todos: %w", err)
	}
	return todos, nil
}

// UpdateTodoByIDAndOwner applies patch to the matching todo and always
// touches updated_at. It reports false when no row matched.
func (s *baseProvider) UpdateTodoByIDAndOwner(ctx context.Context, id, ownerID string, patch model.TodoPatch) (bool, error) {
	patch.Normalize()
	if err := patch.Validate(); err != nil {
		return false, err
	}

	set := []string{"updated_at = ?"}
	args := []any{formatDBTime(s.now())}
	if patch.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Completed != nil {
		set = append(set, "completed = ?")
		args = append(args, boolToInt(*patch.Completed))
	}
	if patch.Priority != nil {
		set = append(set, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.Tags != nil {
		tags, err := encodeTags(*patch.Tags)
		if err != nil {
			return false, fmt.Errorf("datastore: update todo: %w", err)
		}
		set = append(set, "tags = ?")
		args = append(args, tags)
	}
	if patch.SetDueDate {
		set = append(set, "due_date = ?")
		if patch.DueDate == nil {
			args = append(args, nil)
		} else {
			args = append(args, formatDBTime(*patch.DueDate))
		}
	}
	args = append(args, id, ownerID)

	res, err := s.ExecContext(ctx,
		"UPDATE todos SET "+strings.Join(set, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("datastore: update todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: update todo: %w", err)
	}
	return n > 0, nil
}

// DeleteTodoByIDAndOwner reports false when nothing matched.
func (s *baseProvider) DeleteTodoByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.ExecContext(ctx, "DELETE FROM todos WHERE id = ? AND user_id = ?", id, ownerID)
	if err != nil {
		return false, fmt.Errorf("datastore: delete todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: delete todo: %w", err)
	}
	return n > 0, nil
}
