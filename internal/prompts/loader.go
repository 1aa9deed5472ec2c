package prompts

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Template names accepted by Loader.Render.
const (
	Adapt    = "adapt"
	Fix      = "fix"
	Review   = "review"
	Discover = "discover"
)

// Render substitutes named placeholders of the form {{NAME}} into a
// template. It is a pure textual replacement: no code evaluation, so
// untrusted variable values need no sandboxing.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Loader resolves prompt templates, checking override directories
// before falling back to the embedded defaults.
type Loader struct {
	overrideDirs []string
	mu           sync.RWMutex
	cache        map[string]string
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]string),
	}
}

// DefaultLoader creates a loader with the standard override paths:
// 1. Project-local: <configDir>/prompts/
// 2. User config: ~/.config/cascade/prompts/
func DefaultLoader(configDir string) *Loader {
	home, _ := os.UserHomeDir()
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, filepath.Join(configDir, "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "cascade", "prompts"))
	return NewLoader(dirs...)
}

// Template returns the raw template text for the given name.
func (l *Loader) Template(name string) (string, error) {
	l.mu.RLock()
	cached, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	file := name + ".md"
	var content []byte
	var err error
	for _, dir := range l.overrideDirs {
		if content, err = os.ReadFile(filepath.Join(dir, file)); err == nil {
			break
		}
	}
	if content == nil {
		content, err = fs.ReadFile(embeddedFS, "templates/"+file)
		if err != nil {
			return "", err
		}
	}

	text := string(content)
	l.mu.Lock()
	l.cache[name] = text
	l.mu.Unlock()
	return text, nil
}

// Render loads the named template and substitutes the variables.
func (l *Loader) Render(name string, vars map[string]string) (string, error) {
	tpl, err := l.Template(name)
	if err != nil {
		return "", err
	}
	return Render(tpl, vars), nil
}
