// Package server implements the GoTodo HTTP API and WebSocket sync server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gotodo/pkg/auth"
	"github.com/NicolasHaas/gotodo/pkg/crypto"
	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
)

// Config holds server configuration. It can be loaded from YAML and then
// overridden by flags.
type Config struct {
	Addr               string        `yaml:"addr"`            // HTTP bind address (e.g. ":3000")
	DBPath             string        `yaml:"db_path"`         // SQLite database path
	JWTSecret          string        `yaml:"jwt_secret"`      // HS256 signing key; generated when empty
	TokenTTL           time.Duration `yaml:"token_ttl"`       // lifetime of issued tokens
	AllowedOrigins     []string      `yaml:"allowed_origins"` // WebSocket origins; empty allows any
	WSPath             string        `yaml:"ws_path"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`     // per-frame write deadline
	PongTimeout        time.Duration `yaml:"pong_timeout"`      // read deadline, refreshed by pongs
	MaxMessageBytes    int64         `yaml:"max_message_bytes"` // inbound frame limit
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"`

	// CLI-only actions (run and exit)
	SeedFile    string `yaml:"-"` // import users and todos from YAML, then exit
	ExportTodos string `yaml:"-"` // print this user's todos as YAML, then exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               ":3000",
		DBPath:             "gotodo.db",
		TokenTTL:           auth.DefaultTokenTTL,
		WSPath:             "/ws",
		WriteTimeout:       10 * time.Second,
		PongTimeout:        60 * time.Second,
		MaxMessageBytes:    protocol.MaxMessageSize,
		MetricsLogInterval: 60 * time.Second,
	}
}

// Verifier resolves a bearer credential to an identity. Failures wrap
// auth.ErrInvalidCredential.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.Identity, error)
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
	// Verifier overrides the token service built from Config.
	Verifier Verifier
}

// Server is the GoTodo server.
type Server struct {
	cfg      Config
	store    datastore.DataProviderFactory
	registry *Registry
	router   *Router
	metrics  *Metrics
	tokens   *auth.TokenService
	accounts *auth.Accounts
	verifier Verifier
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc

	shutdownOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: missing store dependency")
	}
	def := DefaultConfig()
	if cfg.WSPath == "" {
		cfg.WSPath = def.WSPath
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.JWTSecret == "" {
		secret, err := crypto.GenerateSecret(32)
		if err != nil {
			return nil, fmt.Errorf("server: generate jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
		slog.Warn("no jwt_secret configured, generated an ephemeral one; tokens will not survive a restart")
	}

	st := deps.Store.NonTx()
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, st)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	var verifier Verifier = tokens
	if deps.Verifier != nil {
		verifier = deps.Verifier
	}

	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		registry: NewRegistry(metrics),
		router:   NewRouter(st, metrics),
		metrics:  metrics,
		tokens:   tokens,
		accounts: auth.NewAccounts(st, tokens),
		verifier: verifier,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Tokens returns the token service.
func (s *Server) Tokens() *auth.TokenService {
	return s.tokens
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}
