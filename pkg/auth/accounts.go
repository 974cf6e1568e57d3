package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/NicolasHaas/gotodo/pkg/crypto"
	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/model"
)

// ErrInvalidLogin is returned by Login for an unknown user or wrong password.
var ErrInvalidLogin = errors.New("Invalid credentials")

// ErrUserExists is returned by Register when the username or email is taken.
var ErrUserExists = errors.New("User with this email or username already exists")

// UserStore is the slice of the datastore that account management needs.
type UserStore interface {
	datastore.UserReadProvider
	datastore.UserWriteProvider
}

// Accounts registers users and logs them in, handing out tokens.
type Accounts struct {
	users  UserStore
	tokens *TokenService
}

// NewAccounts creates an Accounts service.
func NewAccounts(users UserStore, tokens *TokenService) *Accounts {
	return &Accounts{users: users, tokens: tokens}
}

// Session is the result of a successful register or login.
type Session struct {
	User  model.Identity `json:"user"`
	Token string         `json:"token"`
}

// Register validates input, hashes the password and creates the user.
func (a *Accounts) Register(ctx context.Context, username, email, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	email = model.NormalizeEmail(email)

	if err := model.ValidateUsername(username); err != nil {
		return nil, model.NewValidationError("username", "%s", capitalize(err.Error()))
	}
	if err := model.ValidateEmail(email); err != nil {
		return nil, model.NewValidationError("email", "Please enter a valid email")
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, model.NewValidationError("password", "%s", capitalize(err.Error()))
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}

	user := &model.User{Username: username, Email: email, PasswordHash: hash}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, datastore.ErrDuplicateUser) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("auth: register: %w", err)
	}

	token, err := a.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	slog.Info("user registered", "user", user.Username, "id", user.ID)
	return &Session{User: user.Identity(), Token: token}, nil
}

// Login checks identifier (username or email) and password.
func (a *Accounts) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, model.NewValidationError("identifier", "Please provide username/email and password")
	}

	user, err := a.users.GetUserByUsernameOrEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidLogin
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("auth: login: %w", err)
	}

	token, err := a.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user.Identity(), Token: token}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
