// Package rbac decides which message types a connection may send in its
// current authentication state.
package rbac

import "github.com/NicolasHaas/gotodo/pkg/protocol"

// Level is the authentication state a message type requires.
type Level int

const (
	// Anonymous messages are accepted before authentication.
	Anonymous Level = iota
	// Authenticated messages need a verified identity.
	Authenticated
)

func (l Level) String() string {
	switch l {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// accessMatrix maps each client message type to the level it requires.
var accessMatrix = map[string]Level{
	protocol.TypeAuth: Anonymous,
	protocol.TypePing: Anonymous,

	protocol.TypeTodosList:   Authenticated,
	protocol.TypeTodosCreate: Authenticated,
	protocol.TypeTodosUpdate: Authenticated,
	protocol.TypeTodosDelete: Authenticated,
	protocol.TypeTodosStats:  Authenticated,
	protocol.TypeTodosSearch: Authenticated,
}

// Required returns the level needed to send msgType. Types not in the
// matrix require authentication, so an anonymous client cannot probe which
// types exist.
func Required(msgType string) Level {
	if l, ok := accessMatrix[msgType]; ok {
		return l
	}
	return Authenticated
}

// Allowed reports whether a connection at level may send msgType.
func Allowed(level Level, msgType string) bool {
	return level >= Required(msgType)
}

// RequireAccess returns protocol.ErrAuthRequired if level is insufficient.
func RequireAccess(level Level, msgType string) error {
	if Allowed(level, msgType) {
		return nil
	}
	return protocol.ErrAuthRequired
}
