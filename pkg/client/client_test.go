package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.yaml")

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings(missing): %v", err)
	}
	if diff := cmp.Diff(DefaultSettings(), got); diff != "" {
		t.Errorf("missing file should yield defaults (-want +got):\n%s", diff)
	}

	want := &Settings{Server: "https://todo.example.com", Username: "alice", Token: "tok"}
	if err := want.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("settings mode = %o, want 600", perm)
	}

	got, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("server: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestWebSocketURL(t *testing.T) {
	tcases := map[string]struct {
		base string
		want string
	}{
		"http":           {"http://localhost:3000", "ws://localhost:3000/ws"},
		"https":          {"https://todo.example.com", "wss://todo.example.com/ws"},
		"trailing_slash": {"http://localhost:3000/", "ws://localhost:3000/ws"},
		"sub_path":       {"https://example.com/todo", "wss://example.com/todo/ws"},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := WebSocketURL(tc.base, "/ws")
			if err != nil {
				t.Fatalf("WebSocketURL: %v", err)
			}
			if got != tc.want {
				t.Errorf("WebSocketURL(%q) = %q, want %q", tc.base, got, tc.want)
			}
		})
	}
}

func TestServerError(t *testing.T) {
	err := error(&ServerError{Type: "error", Message: "Title is required"})
	if err.Error() != "Title is required" {
		t.Errorf("Error() = %q", err.Error())
	}
}
