package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCascade(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cascade.yaml", `
name: demo

repos:
  - name: backend
    path: ./backend
    role: source
    language: python
    test_cmd: "pytest -v"
  - name: frontend
    path: ./frontend
    language: javascript

settings:
  max_parallel: 2
  branch_prefix: "sync/"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Name)
	require.Len(t, cfg.Repos, 2)
	assert.Equal(t, filepath.Join(dir, "backend"), cfg.Repos[0].ResolvedPath())
	assert.True(t, cfg.Repos[0].IsSource())

	// role defaults to consumer, language to unknown when omitted
	assert.False(t, cfg.Repos[1].IsSource())
	assert.Equal(t, "javascript", cfg.Repos[1].Language)

	// file values override defaults; omitted settings keep defaults
	assert.Equal(t, 2, cfg.Settings.MaxParallel)
	assert.Equal(t, "sync/", cfg.Settings.BranchPrefix)
	assert.Equal(t, 600, cfg.Settings.TimeoutPerRepo)
	assert.True(t, cfg.Settings.RetryOnTestFail)
	assert.Equal(t, 2, cfg.Settings.MaxRetries)
}

func TestLoadCascadeAbsolutePathKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cascade.yaml", `
repos:
  - name: svc
    path: /opt/svc
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/svc", cfg.Repos[0].ResolvedPath())
}

func TestLoadCascadeUnnamedRepo(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cascade.yaml", `
repos:
  - path: ./a
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadCascadeMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSourceAndConsumerRepos(t *testing.T) {
	cfg := &Cascade{Repos: []Repo{
		{Name: "api", Role: "source"},
		{Name: "web", Role: "consumer"},
		{Name: "mobile", Role: "consumer"},
	}}
	require.Len(t, cfg.SourceRepos(), 1)
	assert.Equal(t, "api", cfg.SourceRepos()[0].Name)
	assert.Len(t, cfg.ConsumerRepos(), 2)
}

func TestFindExplicitWins(t *testing.T) {
	path, err := Find("/some/explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/some/explicit.yaml", path)
}

func TestLoadAppDefaults(t *testing.T) {
	app, err := LoadApp(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "cline", app.Agent.Binary)
	assert.Equal(t, 4, app.Agent.MaxParallel)
	assert.Equal(t, 8450, app.Dashboard.Port)
	assert.True(t, app.Notifications.Desktop)
}

func TestLoadAppOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[agent]
binary = "claude"
max_parallel = 8

[dashboard]
port = 9000

[drift]
schedule = "0 9 * * *"
`)
	app, err := LoadApp(path)
	require.NoError(t, err)
	assert.Equal(t, "claude", app.Agent.Binary)
	assert.Equal(t, 8, app.Agent.MaxParallel)
	assert.Equal(t, 9000, app.Dashboard.Port)
	assert.Equal(t, "127.0.0.1", app.Dashboard.Host)
	assert.Equal(t, "0 9 * * *", app.Drift.Schedule)
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "x"), ExpandPath("~/x"))
	assert.Equal(t, "/abs/x", ExpandPath("/abs/x"))
}
