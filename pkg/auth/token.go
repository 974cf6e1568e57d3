// Package auth issues and verifies bearer credentials and manages accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/NicolasHaas/gotodo/pkg/model"
)

// ErrInvalidCredential is returned for malformed, expired or revoked tokens
// and for tokens whose user no longer exists.
var ErrInvalidCredential = errors.New("Authentication failed")

// DefaultTokenTTL matches the seven day lifetime of issued tokens.
const DefaultTokenTTL = 7 * 24 * time.Hour

// UserLookup is the slice of the datastore the token service needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Claims carries the user ID alongside the registered JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	gojwt.RegisteredClaims
}

// TokenService signs HS256 tokens and resolves them back to identities.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

// NewTokenService creates a TokenService. A zero ttl uses DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration, users UserLookup) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}, nil
}

// Issue signs a token for user.
func (s *TokenService) Issue(user *model.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify validates token and returns the identity of its (still existing) user.
func (s *TokenService) Verify(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, fmt.Errorf("auth: verify: empty token: %w", ErrInvalidCredential)
	}

	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: verify: %v: %w", err, ErrInvalidCredential)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return model.Identity{}, fmt.Errorf("auth: verify: no user in token: %w", ErrInvalidCredential)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: verify: %w", err)
	}
	if user == nil {
		return model.Identity{}, fmt.Errorf("auth: verify: user %s not found: %w", userID, ErrInvalidCredential)
	}
	return user.Identity(), nil
}
