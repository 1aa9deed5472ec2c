package hosting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitHubURL(t *testing.T) {
	cases := []struct {
		in    string
		owner string
		repo  string
	}{
		{"octo/hello", "octo", "hello"},
		{"octo/hello.git", "octo", "hello"},
		{"https://github.com/octo/hello", "octo", "hello"},
		{"https://github.com/octo/hello.git", "octo", "hello"},
		{"https://github.com/octo/hello/", "octo", "hello"},
		{"git@github.com:octo/hello.git", "octo", "hello"},
		{"not a url", "", "not a url"},
	}
	for _, tc := range cases {
		owner, repo := ParseGitHubURL(tc.in)
		assert.Equal(t, tc.owner, owner, tc.in)
		assert.Equal(t, tc.repo, repo, tc.in)
	}
}

func TestNormalizeCloneURL(t *testing.T) {
	assert.Equal(t, "https://github.com/octo/hello.git", NormalizeCloneURL("octo/hello"))
	assert.Equal(t, "https://github.com/octo/hello.git", NormalizeCloneURL("git@github.com:octo/hello.git"))
	// unrecognized references pass through untouched
	assert.Equal(t, "/local/path", NormalizeCloneURL("/local/path"))
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestDetectLanguageByBuildFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pyproject.toml")
	assert.Equal(t, "python", DetectLanguage(dir))

	dir = t.TempDir()
	touch(t, dir, "package.json")
	assert.Equal(t, "javascript", DetectLanguage(dir))

	dir = t.TempDir()
	touch(t, dir, "go.mod")
	assert.Equal(t, "go", DetectLanguage(dir))
}

func TestDetectLanguageByExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "main.rs")
	assert.Equal(t, "rust", DetectLanguage(dir))

	assert.Equal(t, "unknown", DetectLanguage(t.TempDir()))
}

func TestDetectTestCmd(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pyproject.toml")
	assert.Equal(t, "python -m pytest -v", DetectTestCmd(dir, "python"))

	dir = t.TempDir()
	touch(t, dir, "package.json")
	assert.Equal(t, "npm test", DetectTestCmd(dir, "javascript"))

	assert.Equal(t, "go test ./...", DetectTestCmd(t.TempDir(), "go"))
	assert.Equal(t, "cargo test", DetectTestCmd(t.TempDir(), "rust"))
	assert.Equal(t, "", DetectTestCmd(t.TempDir(), "cobol"))
	// python without a test marker yields nothing
	assert.Equal(t, "", DetectTestCmd(t.TempDir(), "python"))
}
