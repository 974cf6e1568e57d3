// Package protocol defines the WebSocket envelope, the message types and
// the typed requests carried by them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

// MaxMessageSize is the maximum inbound envelope size (64KB).
const MaxMessageSize = 65536

// Message types, client to server.
const (
	TypeAuth        = "auth"
	TypePing        = "ping"
	TypeTodosList   = "todos_list"
	TypeTodosCreate = "todos_create"
	TypeTodosUpdate = "todos_update"
	TypeTodosDelete = "todos_delete"
	TypeTodosStats  = "todos_stats"
	TypeTodosSearch = "todos_search"
)

// Message types, server to client.
const (
	TypeConnected           = "connected"
	TypeAuthSuccess         = "auth_success"
	TypeAuthError           = "auth_error"
	TypePong                = "pong"
	TypeError               = "error"
	TypeTodosListResponse   = "todos_list_response"
	TypeTodosCreateResponse = "todos_create_response"
	TypeTodosUpdateResponse = "todos_update_response"
	TypeTodosDeleteResponse = "todos_delete_response"
	TypeTodosStatsResponse  = "todos_stats_response"
	TypeTodosSearchResponse = "todos_search_response"

	// Broadcasts to the caller's other connections.
	TypeTodoCreated = "todo_created"
	TypeTodoUpdated = "todo_updated"
	TypeTodoDeleted = "todo_deleted"
)

var (
	ErrMalformedMessage = errors.New("Invalid message format")
	ErrUnknownType      = errors.New("Unknown message type")
	ErrAuthRequired     = errors.New("Authentication required")
	ErrTokenRequired    = errors.New("Token required for authentication")
)

// Envelope is an inbound message as read off the wire. Data is decoded
// later by ParseRequest once the type is known.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Message is an outbound envelope. ID is set only on direct replies.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Request is a decoded inbound message. Payload is one of the *pb request
// structs, selected by Type.
type Request struct {
	Type    string
	ID      string
	Payload any
}

var requestPayloads = map[string]func() any{
	TypeAuth:        func() any { return &pb.AuthRequest{} },
	TypePing:        func() any { return &pb.PingRequest{} },
	TypeTodosList:   func() any { return &pb.ListRequest{} },
	TypeTodosCreate: func() any { return &pb.CreateRequest{} },
	TypeTodosUpdate: func() any { return &pb.UpdateRequest{} },
	TypeTodosDelete: func() any { return &pb.DeleteRequest{} },
	TypeTodosStats:  func() any { return &pb.StatsRequest{} },
	TypeTodosSearch: func() any { return &pb.SearchRequest{} },
}

// IsRequestType reports whether typ is a message a client may send.
func IsRequestType(typ string) bool {
	_, ok := requestPayloads[typ]
	return ok
}

// Decode parses a raw frame into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) > MaxMessageSize {
		return env, fmt.Errorf("protocol: message too large: %d bytes: %w", len(data), ErrMalformedMessage)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("protocol: unmarshal: %v: %w", err, ErrMalformedMessage)
	}
	if env.Type == "" {
		return env, fmt.Errorf("protocol: missing type: %w", ErrMalformedMessage)
	}
	return env, nil
}

// ParseRequest decodes the envelope's data into the payload for its type.
// Missing or null data is treated as an empty object.
func ParseRequest(env Envelope) (Request, error) {
	newPayload, ok := requestPayloads[env.Type]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	payload := newPayload()
	data := bytes.TrimSpace(env.Data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, payload); err != nil {
			return Request{}, fmt.Errorf("protocol: %s data: %v: %w", env.Type, err, ErrMalformedMessage)
		}
	}
	return Request{Type: env.Type, ID: env.ID, Payload: payload}, nil
}

// Encode serializes msg. Outbound messages are not size-limited; list
// replies can exceed MaxMessageSize.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return data, nil
}

// NewError builds an error reply.
func NewError(id, message string) Message {
	return Message{Type: TypeError, Data: pb.ErrorPayload{Message: message}, ID: id}
}
