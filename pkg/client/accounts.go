package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NicolasHaas/gotodo/pkg/auth"
)

// API calls the server's HTTP account endpoints.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

// NewAPI creates an API client for baseURL (e.g. http://localhost:3000).
func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Register creates an account and returns the session.
func (a *API) Register(ctx context.Context, username, email, password string) (*auth.Session, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	var sess auth.Session
	if err := a.post(ctx, "/api/auth/register", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Login exchanges a username or email and password for a session.
func (a *API) Login(ctx context.Context, identifier, password string) (*auth.Session, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var sess auth.Session
	if err := a.post(ctx, "/api/auth/login", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("client: %s: decode response (status %d): %w", path, resp.StatusCode, err)
	}
	if !env.Success {
		return &ServerError{Type: "http", Message: env.Message}
	}
	return json.Unmarshal(env.Data, out)
}

// WebSocketURL derives the ws:// or wss:// endpoint from an http(s) base
// URL and a path such as /ws.
func WebSocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
