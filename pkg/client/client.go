// Package client implements a GoTodo WebSocket client with request/reply
// correlation and a stream of server-pushed events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

// ErrClosed is returned for requests on a closed or lost connection.
var ErrClosed = errors.New("client: connection closed")

// ServerError is an error or auth_error reply from the server.
type ServerError struct {
	Type    string
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

const eventBuffer = 256

// Client is a connection to the server's WebSocket endpoint.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope

	events chan protocol.Envelope
	done   chan struct{}
}

// Dial connects to wsURL (e.g. ws://localhost:3000/ws). A non-empty token
// is passed as ?token= so the connection authenticates on open.
func Dial(ctx context.Context, wsURL, token string) (*Client, error) {
	if token != "" {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, fmt.Errorf("client: parse url: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Envelope),
		events:  make(chan protocol.Envelope, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers messages that are not replies to a request of this
// client: the greeting, connect-time auth results and broadcasts. It is
// closed when the connection ends.
func (c *Client) Events() <-chan protocol.Envelope {
	return c.events
}

// Done returns a channel that's closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		close(c.done)
		c.mu.Unlock()
		close(c.events)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "err", err)
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("undecodable server message", "err", err)
			continue
		}

		if env.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		select {
		case c.events <- env:
		default:
			slog.Warn("event buffer full, dropping message", "type", env.Type)
		}
	}
}

// Send writes a message without waiting for a reply. It returns the
// correlation ID it assigned.
func (c *Client) Send(typ string, data any) (string, error) {
	id := ulid.Make().String()
	return id, c.write(protocol.Message{Type: typ, Data: data, ID: id})
}

func (c *Client) write(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("client: write %s: %w", msg.Type, err)
	}
	return nil
}

// Request sends a message and waits for the reply carrying the same
// correlation ID. error and auth_error replies are returned as
// *ServerError.
func (c *Client) Request(ctx context.Context, typ string, data any) (protocol.Envelope, error) {
	id := ulid.Make().String()
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return protocol.Envelope{}, ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(protocol.Message{Type: typ, Data: data, ID: id}); err != nil {
		c.forget(id)
		return protocol.Envelope{}, err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return protocol.Envelope{}, ErrClosed
		}
		if env.Type == protocol.TypeError || env.Type == protocol.TypeAuthError {
			var p pb.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			return env, &ServerError{Type: env.Type, Message: p.Message}
		}
		return env, nil
	case <-ctx.Done():
		c.forget(id)
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, typ string, req, out any) error {
	env, err := c.Request(ctx, typ, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client: decode %s: %w", env.Type, err)
	}
	return nil
}

// Authenticate sends an auth message and returns the bound identity.
func (c *Client) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	var out pb.AuthSuccess
	if err := c.call(ctx, protocol.TypeAuth, pb.AuthRequest{Token: token}, &out); err != nil {
		return model.Identity{}, err
	}
	return out.User, nil
}

// Ping round-trips a ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, protocol.TypePing, nil, nil)
}

// List returns the caller's todos.
func (c *Client) List(ctx context.Context, req pb.ListRequest) ([]model.Todo, error) {
	var out pb.TodosPayload
	if err := c.call(ctx, protocol.TypeTodosList, req, &out); err != nil {
		return nil, err
	}
	return out.Todos, nil
}

// Create creates a todo.
func (c *Client) Create(ctx context.Context, req pb.CreateRequest) (*model.Todo, error) {
	var out pb.TodoPayload
	if err := c.call(ctx, protocol.TypeTodosCreate, req, &out); err != nil {
		return nil, err
	}
	return out.Todo, nil
}

// Update patches a todo and returns the stored result.
func (c *Client) Update(ctx context.Context, req pb.UpdateRequest) (*model.Todo, error) {
	var out pb.TodoPayload
	if err := c.call(ctx, protocol.TypeTodosUpdate, req, &out); err != nil {
		return nil, err
	}
	return out.Todo, nil
}

// Delete deletes a todo.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, protocol.TypeTodosDelete, pb.DeleteRequest{ID: id}, nil)
}

// Stats returns the caller's todo summary.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var out pb.StatsPayload
	if err := c.call(ctx, protocol.TypeTodosStats, pb.StatsRequest{}, &out); err != nil {
		return model.Stats{}, err
	}
	return out.Stats, nil
}

// Search runs a text search over the caller's todos.
func (c *Client) Search(ctx context.Context, req pb.SearchRequest) ([]model.Todo, error) {
	var out pb.SearchPayload
	if err := c.call(ctx, protocol.TypeTodosSearch, req, &out); err != nil {
		return nil, err
	}
	return out.Todos, nil
}

// NextEvent waits for the next pushed message of one of types, discarding
// others. With no types, any event matches.
func (c *Client) NextEvent(ctx context.Context, types ...string) (protocol.Envelope, error) {
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return protocol.Envelope{}, ErrClosed
			}
			if len(types) == 0 {
				return env, nil
			}
			for _, t := range types {
				if env.Type == t {
					return env, nil
				}
			}
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		}
	}
}
