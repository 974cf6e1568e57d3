package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
)

var errPeerClosed = errors.New("server: peer closed")

// wsPeer adapts a gorilla WebSocket connection to Conn. Writes are
// serialized; gorilla allows only one concurrent writer.
type wsPeer struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

func newWSPeer(conn *websocket.Conn, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{
		id:           datastore.NewID(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) Writable() bool { return !p.closed.Load() }

func (p *wsPeer) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return errPeerClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// Close sends a close frame (best effort) and closes the socket.
func (p *wsPeer) Close() error {
	return p.closeWith(websocket.CloseNormalClosure, "")
}

func (p *wsPeer) closeWith(code int, reason string) error {
	if p.closed.Swap(true) {
		return nil
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(p.writeTimeout))
	return p.conn.Close()
}

// keepalive pings the client until ctx is done. A ping that cannot be
// written closes the peer, which ends the read loop.
func (p *wsPeer) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout)); err != nil {
				slog.Debug("ping failed", "conn", p.id, "err", err)
				_ = p.Close()
				return
			}
		}
	}
}

// handleWS upgrades the request and runs the connection's read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	peer := newWSPeer(conn, s.cfg.WriteTimeout)
	sess := newSession(s, peer)

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("new websocket connection", "remote", r.RemoteAddr, "conn", peer.ID())

	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		sess.Close()
		_ = peer.Close()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
	}()

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	// Only pongs extend the read deadline; data frames do not.
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	go peer.keepalive(ctx, s.cfg.PongTimeout*9/10)
	go func() {
		<-ctx.Done()
		if s.ctx.Err() != nil {
			_ = peer.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}()

	sess.Open(ctx, token)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error", "conn", peer.ID(), "err", err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		sess.HandleFrame(ctx, data)
	}
}

// tokenFromRequest returns the connect-time credential from ?token= or an
// Authorization: Bearer header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// checkOrigin allows any origin when none are configured, and requests
// without an Origin header (non-browser clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}
