package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/gotodo/pkg/auth"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
	"github.com/NicolasHaas/gotodo/pkg/rbac"
	"github.com/NicolasHaas/gotodo/pkg/version"
)

const greetingMessage = "Connected to Todo API WebSocket"

var errAlreadyAuthenticated = errors.New("Already authenticated as a different user")

// State is the lifecycle stage of a Session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection: the authentication handshake, access
// checks, dispatch to the Router and registry membership. Frames of one
// session must be fed sequentially.
type Session struct {
	conn     Conn
	registry *Registry
	router   *Router
	verifier Verifier
	metrics  *Metrics

	mu       sync.Mutex
	state    State
	identity model.Identity
}

func newSession(srv *Server, conn Conn) *Session {
	return &Session{
		conn:     conn,
		registry: srv.registry,
		router:   srv.router,
		verifier: srv.verifier,
		metrics:  srv.metrics,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the authenticated identity, or the zero value.
func (s *Session) Identity() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) level() rbac.Level {
	if s.State() == StateAuthenticated {
		return rbac.Authenticated
	}
	return rbac.Anonymous
}

// Open verifies a connect-time credential (if any), then sends the
// greeting followed by the outcome of that attempt.
func (s *Session) Open(ctx context.Context, token string) {
	var result *protocol.Message
	if token != "" {
		m := s.authenticate(ctx, token, "")
		result = &m
	}

	s.send(protocol.Message{
		Type: protocol.TypeConnected,
		Data: pb.Connected{
			Message:      greetingMessage,
			RequiresAuth: s.State() != StateAuthenticated,
			Version:      version.String(),
		},
	})
	if result != nil {
		s.send(*result)
	}
}

// HandleFrame processes one inbound frame. It never closes the connection.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	if s.State() == StateClosed {
		return
	}
	s.metrics.MessagesIn.Add(1)

	env, err := protocol.Decode(data)
	if err != nil {
		slog.Debug("malformed message", "conn", s.conn.ID(), "err", err)
		s.sendError(env.ID, err)
		return
	}

	if err := rbac.RequireAccess(s.level(), env.Type); err != nil {
		s.sendError(env.ID, err)
		return
	}

	req, err := protocol.ParseRequest(env)
	if err != nil {
		s.sendError(env.ID, err)
		return
	}

	switch p := req.Payload.(type) {
	case *pb.AuthRequest:
		if p.Token == "" {
			s.sendError(req.ID, protocol.ErrTokenRequired)
			return
		}
		s.send(s.authenticate(ctx, p.Token, req.ID))
	case *pb.PingRequest:
		s.send(protocol.Message{Type: protocol.TypePong, ID: req.ID})
	default:
		identity := s.Identity()
		res := s.router.Handle(ctx, identity, req)
		if res.Err != nil {
			s.metrics.MessageErrors.Add(1)
		}
		s.send(res.Reply)
		if res.Broadcast != nil {
			s.registry.Broadcast(identity.ID, *res.Broadcast, s.conn)
		}
	}
}

// authenticate verifies token and, on success, binds the identity and
// registers the connection. It returns the auth_success or auth_error
// message to send.
func (s *Session) authenticate(ctx context.Context, token, id string) protocol.Message {
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		if errors.Is(err, auth.ErrInvalidCredential) {
			slog.Debug("authentication failed", "conn", s.conn.ID(), "err", err)
		} else {
			slog.Error("credential verification error", "conn", s.conn.ID(), "err", err)
		}
		return authError(id, auth.ErrInvalidCredential)
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return authError(id, auth.ErrInvalidCredential)
	case StateAuthenticated:
		current := s.identity
		s.mu.Unlock()
		if current.ID != identity.ID {
			slog.Warn("re-authentication as a different user refused",
				"conn", s.conn.ID(), "user", current.Username, "attempted", identity.Username)
			return authError(id, errAlreadyAuthenticated)
		}
	default:
		s.identity = identity
		s.state = StateAuthenticated
		s.registry.Register(identity.ID, s.conn)
		s.mu.Unlock()
		s.metrics.SuccessfulAuths.Add(1)
		slog.Info("client authenticated", "user", identity.Username, "conn", s.conn.ID())
	}

	return protocol.Message{
		Type: protocol.TypeAuthSuccess,
		Data: pb.AuthSuccess{User: identity},
		ID:   id,
	}
}

// Close marks the session closed and deregisters it. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.state == StateAuthenticated {
		s.registry.Deregister(s.identity.ID, s.conn)
		slog.Info("client disconnected", "user", s.identity.Username, "conn", s.conn.ID())
	} else {
		slog.Debug("unauthenticated connection closed", "conn", s.conn.ID())
	}
	s.state = StateClosed
}

func (s *Session) send(msg protocol.Message) {
	if !s.conn.Writable() {
		return
	}
	if err := s.conn.Send(msg); err != nil {
		slog.Debug("send failed", "conn", s.conn.ID(), "type", msg.Type, "err", err)
	}
}

func (s *Session) sendError(id string, err error) {
	s.metrics.MessageErrors.Add(1)
	s.send(protocol.NewError(id, ClientMessage(err)))
}

func authError(id string, err error) protocol.Message {
	return protocol.Message{
		Type: protocol.TypeAuthError,
		Data: pb.ErrorPayload{Message: err.Error()},
		ID:   id,
	}
}
