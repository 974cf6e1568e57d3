package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gotodo/pkg/client"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	api   *client.API
	wsURL string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*Config) {})
}

func newTestEnvWith(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	srv, _ := newTestServerWith(t, configure)
	ts := httptest.NewServer(srv.Handler())
	// Shutdown closes live WebSocket connections so ts.Close does not block.
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})

	wsURL, err := client.WebSocketURL(ts.URL, srv.Config().WSPath)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{srv: srv, ts: ts, api: client.NewAPI(ts.URL), wsURL: wsURL}
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	sess, err := e.api.Register(context.Background(), username, username+"@example.com", "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess.Token
}

// dial connects and waits for the handshake to finish.
func (e *testEnv) dial(t *testing.T, token string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, e.wsURL, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.NextEvent(ctx, protocol.TypeConnected); err != nil {
		t.Fatalf("waiting for greeting: %v", err)
	}
	if token != "" {
		env, err := c.NextEvent(ctx, protocol.TypeAuthSuccess, protocol.TypeAuthError)
		if err != nil {
			t.Fatalf("waiting for auth result: %v", err)
		}
		if env.Type != protocol.TypeAuthSuccess {
			t.Fatalf("connect-time auth: got %s", env.Type)
		}
	}
	return c
}

// pendingEvents drains events already received without waiting.
func pendingEvents(c *client.Client) []string {
	var types []string
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return types
			}
			types = append(types, env.Type)
		default:
			return types
		}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIntegrationSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	aliceToken := env.register(t, "alice")
	bobToken := env.register(t, "bob")

	a := env.dial(t, aliceToken)
	b := env.dial(t, aliceToken)
	c := env.dial(t, bobToken)

	todo, err := a.Create(ctx, pb.CreateRequest{Title: "Buy milk", Priority: "high"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ev, err := b.NextEvent(ctx, protocol.TypeTodoCreated)
	if err != nil {
		t.Fatalf("B waiting for todo_created: %v", err)
	}
	if ev.ID != "" {
		t.Errorf("broadcast carries id %q", ev.ID)
	}
	var created pb.TodoPayload
	if err := json.Unmarshal(ev.Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Todo.ID != todo.ID || created.Todo.Title != "Buy milk" {
		t.Errorf("broadcast todo = %+v", created.Todo)
	}

	// Replies are ordered after any broadcast to the same connection, so a
	// ping round-trip flushes what the originator would have received.
	if err := a.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	for _, typ := range pendingEvents(a) {
		if typ == protocol.TypeTodoCreated {
			t.Error("originator received its own broadcast")
		}
	}

	done := true
	if _, err := a.Update(ctx, pb.UpdateRequest{ID: todo.ID, Completed: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev, err = b.NextEvent(ctx, protocol.TypeTodoUpdated)
	if err != nil {
		t.Fatalf("B waiting for todo_updated: %v", err)
	}
	var updated pb.TodoPayload
	if err := json.Unmarshal(ev.Data, &updated); err != nil {
		t.Fatal(err)
	}
	if !updated.Todo.Completed {
		t.Errorf("broadcast todo not completed: %+v", updated.Todo)
	}

	if err := b.Delete(ctx, todo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev, err = a.NextEvent(ctx, protocol.TypeTodoDeleted)
	if err != nil {
		t.Fatalf("A waiting for todo_deleted: %v", err)
	}
	var deleted pb.IDPayload
	if err := json.Unmarshal(ev.Data, &deleted); err != nil || deleted.ID != todo.ID {
		t.Errorf("todo_deleted = %s, %v", ev.Data, err)
	}

	// Bob is isolated from everything above.
	if err := c.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if got := pendingEvents(c); len(got) != 0 {
		t.Errorf("other user received %v", got)
	}
	todos, err := c.List(ctx, pb.ListRequest{})
	if err != nil || len(todos) != 0 {
		t.Errorf("bob's list = %v, %v", todos, err)
	}
}

func TestIntegrationLateAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	token := env.register(t, "alice")

	c, err := client.Dial(ctx, env.wsURL, "")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	greeting, err := c.NextEvent(ctx, protocol.TypeConnected)
	if err != nil {
		t.Fatal(err)
	}
	var hello pb.Connected
	if err := json.Unmarshal(greeting.Data, &hello); err != nil {
		t.Fatal(err)
	}
	if !hello.RequiresAuth || hello.Message != "Connected to Todo API WebSocket" {
		t.Errorf("greeting = %+v", hello)
	}

	_, err = c.List(ctx, pb.ListRequest{})
	var serr *client.ServerError
	if !errors.As(err, &serr) || serr.Message != "Authentication required" {
		t.Fatalf("list before auth: %v", err)
	}

	_, err = c.Authenticate(ctx, "bogus")
	if !errors.As(err, &serr) || serr.Type != protocol.TypeAuthError {
		t.Fatalf("bad auth: %v", err)
	}

	user, err := c.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}
	if _, err := c.Create(ctx, pb.CreateRequest{Title: "after auth"}); err != nil {
		t.Errorf("create after auth: %v", err)
	}
}

func TestIntegrationRESTBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	token := env.register(t, "alice")
	a := env.dial(t, token)
	b := env.dial(t, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.ts.URL+"/api/todos",
		bytes.NewBufferString(`{"title":"from rest","priority":"low"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	for name, c := range map[string]*client.Client{"A": a, "B": b} {
		if _, err := c.NextEvent(ctx, protocol.TypeTodoCreated); err != nil {
			t.Errorf("%s waiting for todo_created: %v", name, err)
		}
	}
}

func TestIntegrationHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "alice")
	emptyToken := env.register(t, "bob")

	owned, err := env.dial(t, token).Create(testContext(t), pb.CreateRequest{Title: "Owned todo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	type tcase struct {
		method     string
		path       string
		token      string
		body       string
		wantStatus int
		wantBody   string
	}

	tcases := map[string]tcase{
		"health": {
			method: http.MethodGet, path: "/health",
			wantStatus: http.StatusOK, wantBody: `"message":"Todo API is running"`,
		},
		"metrics": {
			method: http.MethodGet, path: "/metrics",
			wantStatus: http.StatusOK, wantBody: "gotodo_users_registered_total 2",
		},
		"metrics_json": {
			method: http.MethodGet, path: "/metrics?format=json",
			wantStatus: http.StatusOK, wantBody: `"users_registered": 2`,
		},
		"missing_token": {
			method: http.MethodGet, path: "/api/todos",
			wantStatus: http.StatusUnauthorized, wantBody: "Access token required",
		},
		"bad_token": {
			method: http.MethodGet, path: "/api/todos", token: "nope",
			wantStatus: http.StatusUnauthorized, wantBody: "Invalid or expired token",
		},
		"list": {
			method: http.MethodGet, path: "/api/todos", token: emptyToken,
			wantStatus: http.StatusOK, wantBody: `"todos":[]`,
		},
		"create_invalid": {
			method: http.MethodPost, path: "/api/todos", token: token, body: `{"title":""}`,
			wantStatus: http.StatusBadRequest, wantBody: "Title is required",
		},
		"create_bad_json": {
			method: http.MethodPost, path: "/api/todos", token: token, body: `{`,
			wantStatus: http.StatusBadRequest, wantBody: "Invalid request body",
		},
		"get_missing": {
			method: http.MethodGet, path: "/api/todos/01HZZZZZZZZZZZZZZZZZZZZZZZ", token: token,
			wantStatus: http.StatusNotFound, wantBody: "Todo not found or not authorized",
		},
		"get_owned": {
			method: http.MethodGet, path: "/api/todos/" + owned.ID, token: token,
			wantStatus: http.StatusOK, wantBody: `"title":"Owned todo"`,
		},
		"get_other_users": {
			method: http.MethodGet, path: "/api/todos/" + owned.ID, token: emptyToken,
			wantStatus: http.StatusNotFound, wantBody: "Todo not found or not authorized",
		},
		"stats": {
			method: http.MethodGet, path: "/api/todos/stats/summary", token: emptyToken,
			wantStatus: http.StatusOK, wantBody: `"total":0`,
		},
		"me": {
			method: http.MethodGet, path: "/api/auth/me", token: token,
			wantStatus: http.StatusOK, wantBody: `"username":"alice"`,
		},
		"duplicate_register": {
			method: http.MethodPost, path: "/api/auth/register",
			body:       `{"username":"alice","email":"alice@example.com","password":"password123"}`,
			wantStatus: http.StatusConflict, wantBody: "already exists",
		},
		"bad_login": {
			method: http.MethodPost, path: "/api/auth/login",
			body:       `{"identifier":"alice","password":"wrong-password"}`,
			wantStatus: http.StatusUnauthorized, wantBody: "Invalid credentials",
		},
		"unknown_route": {
			method: http.MethodGet, path: "/api/nothing",
			wantStatus: http.StatusNotFound, wantBody: "Route not found",
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req, err := http.NewRequest(tc.method, env.ts.URL+tc.path, body)
			if err != nil {
				t.Fatal(err)
			}
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = resp.Body.Close() }()
			raw, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tc.wantStatus, raw)
			}
			if !strings.Contains(string(raw), tc.wantBody) {
				t.Errorf("body %s does not contain %q", raw, tc.wantBody)
			}
		})
	}
}

func TestIntegrationKeepalive(t *testing.T) {
	const pongTimeout = 500 * time.Millisecond
	env := newTestEnvWith(t, func(cfg *Config) { cfg.PongTimeout = pongTimeout })
	ctx := testContext(t)

	t.Run("pongs_keep_connection", func(t *testing.T) {
		c := env.dial(t, env.register(t, "alice"))
		time.Sleep(4 * pongTimeout)
		if err := c.Ping(ctx); err != nil {
			t.Fatalf("ping after idle period: %v", err)
		}
	})

	t.Run("frames_without_pongs_time_out", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, env.wsURL, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = conn.Close() }()
		conn.SetPingHandler(func(string) error { return nil })

		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		ticker := time.NewTicker(pongTimeout / 5)
		defer ticker.Stop()
		deadline := time.After(8 * pongTimeout)
		for {
			select {
			case <-readErr:
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
			case <-deadline:
				t.Fatal("server kept a connection that never answered pings")
			}
		}
	})
}
