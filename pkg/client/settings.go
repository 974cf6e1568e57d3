package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores the client's server address and last issued token,
// persisted as YAML in the user's config directory.
type Settings struct {
	Server   string `yaml:"server"` // base URL, e.g. http://localhost:3000
	Username string `yaml:"username,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Server: "http://localhost:3000",
	}
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gotodo-client.yaml"
	}
	return filepath.Join(dir, "gotodo", "client.yaml")
}

// LoadSettings loads settings from path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("client: parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings to path, creating its directory. The file holds a
// bearer token, so it is written owner-only.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("client: create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
