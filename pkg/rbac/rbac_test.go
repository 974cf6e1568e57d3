package rbac

import (
	"errors"
	"testing"

	"github.com/NicolasHaas/gotodo/pkg/protocol"
)

func TestAllowed(t *testing.T) {
	type tcase struct {
		level   Level
		msgType string
		want    bool
	}

	tcases := map[string]tcase{
		"anon_auth":      {Anonymous, protocol.TypeAuth, true},
		"anon_ping":      {Anonymous, protocol.TypePing, true},
		"anon_list":      {Anonymous, protocol.TypeTodosList, false},
		"anon_create":    {Anonymous, protocol.TypeTodosCreate, false},
		"anon_unknown":   {Anonymous, "todos_explode", false},
		"authed_ping":    {Authenticated, protocol.TypePing, true},
		"authed_delete":  {Authenticated, protocol.TypeTodosDelete, true},
		"authed_search":  {Authenticated, protocol.TypeTodosSearch, true},
		"authed_unknown": {Authenticated, "todos_explode", true},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := Allowed(tc.level, tc.msgType); got != tc.want {
				t.Errorf("Allowed(%s, %q) = %v, want %v", tc.level, tc.msgType, got, tc.want)
			}
		})
	}
}

func TestEveryRequestTypeIsInMatrix(t *testing.T) {
	for _, typ := range []string{
		protocol.TypeAuth, protocol.TypePing, protocol.TypeTodosList, protocol.TypeTodosCreate,
		protocol.TypeTodosUpdate, protocol.TypeTodosDelete, protocol.TypeTodosStats, protocol.TypeTodosSearch,
	} {
		if !protocol.IsRequestType(typ) {
			t.Errorf("%q is not a request type", typ)
		}
		if _, ok := accessMatrix[typ]; !ok {
			t.Errorf("%q missing from access matrix", typ)
		}
	}
}

func TestRequireAccess(t *testing.T) {
	if err := RequireAccess(Anonymous, protocol.TypeTodosStats); !errors.Is(err, protocol.ErrAuthRequired) {
		t.Errorf("RequireAccess anonymous stats: error = %v, want ErrAuthRequired", err)
	}
	if err := RequireAccess(Authenticated, protocol.TypeTodosStats); err != nil {
		t.Errorf("RequireAccess authenticated stats: %v", err)
	}
}
