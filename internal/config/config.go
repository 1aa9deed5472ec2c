package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// App holds application-level configuration, loaded from the user's
// config.toml. Run-level configuration (repos, settings) lives in
// cascade.yaml and is loaded separately.
type App struct {
	Agent         AgentConfig         `toml:"agent"`
	Dashboard     DashboardConfig     `toml:"dashboard"`
	Notifications NotificationsConfig `toml:"notifications"`
	Drift         DriftConfig         `toml:"drift"`
}

// AgentConfig holds agent CLI settings
type AgentConfig struct {
	Binary      string `toml:"binary"`
	MaxParallel int    `toml:"max_parallel"`
}

// DashboardConfig holds dashboard server settings
type DashboardConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// DriftConfig holds scheduled drift-check settings
type DriftConfig struct {
	Schedule string `toml:"schedule"`
}

// DefaultApp returns an App config with sensible defaults
func DefaultApp() *App {
	return &App{
		Agent: AgentConfig{
			Binary:      "cline",
			MaxParallel: 4,
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8450,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// LoadApp reads application configuration from a TOML file, falling
// back to defaults when the file does not exist.
func LoadApp(path string) (*App, error) {
	cfg := DefaultApp()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultAppPath returns the default config file location
func DefaultAppPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cascade", "config.toml")
}

// StatePath returns the location where the run history database lives
func StatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cascade", "runs.db")
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
