package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"gopkg.in/yaml.v3"
)

// Repo describes one repository participating in a cascade run.
// Immutable after load.
type Repo struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Role     string `yaml:"role"`
	Language string `yaml:"language"`
	TestCmd  string `yaml:"test_cmd"`
	GitHub   string `yaml:"github"`

	resolvedPath string
}

// ResolvedPath returns the repo path resolved against the config dir.
func (r Repo) ResolvedPath() string {
	if r.resolvedPath != "" {
		return r.resolvedPath
	}
	return r.Path
}

// IsSource reports whether this repo originates the schema.
func (r Repo) IsSource() bool {
	return domain.Role(r.Role) == domain.RoleSource
}

// IsGitHub reports whether the repo has a remote reference for
// push and pull-request creation.
func (r Repo) IsGitHub() bool {
	return r.GitHub != ""
}

// Settings is the run configuration for the propagation engine.
type Settings struct {
	MaxParallel     int    `yaml:"max_parallel"`
	TimeoutPerRepo  int    `yaml:"timeout_per_repo"`
	AutoBranch      bool   `yaml:"auto_branch"`
	BranchPrefix    string `yaml:"branch_prefix"`
	RetryOnTestFail bool   `yaml:"retry_on_test_fail"`
	MaxRetries      int    `yaml:"max_retries"`
	Model           string `yaml:"model"`

	// Drift holds the field patterns the drift detector scans for.
	Drift DriftFields `yaml:"drift"`
}

// DriftFields names the schema fields whose replacement is being
// propagated: consumers still referencing OldFields are out of sync.
type DriftFields struct {
	OldFields []string `yaml:"old_fields"`
	NewFields []string `yaml:"new_fields"`
}

// RepoTimeout returns the per-repo agent timeout as a duration.
func (s Settings) RepoTimeout() time.Duration {
	return time.Duration(s.TimeoutPerRepo) * time.Second
}

// DefaultSettings returns run settings matching the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxParallel:     4,
		TimeoutPerRepo:  600,
		AutoBranch:      true,
		BranchPrefix:    "cascade/",
		RetryOnTestFail: true,
		MaxRetries:      2,
	}
}

// Cascade is a loaded cascade.yaml: the repo list plus run settings.
type Cascade struct {
	Name     string   `yaml:"name"`
	Repos    []Repo   `yaml:"repos"`
	Settings Settings `yaml:"settings"`

	// Dir is the directory the config was loaded from; relative repo
	// paths resolve against it.
	Dir string `yaml:"-"`
}

// SourceRepos returns the repos with the source role.
func (c *Cascade) SourceRepos() []Repo {
	var out []Repo
	for _, r := range c.Repos {
		if r.IsSource() {
			out = append(out, r)
		}
	}
	return out
}

// ConsumerRepos returns the repos without the source role.
func (c *Cascade) ConsumerRepos() []Repo {
	var out []Repo
	for _, r := range c.Repos {
		if !r.IsSource() {
			out = append(out, r)
		}
	}
	return out
}

// Load reads a cascade.yaml configuration file. Settings omitted from
// the file keep their defaults; relative repo paths are resolved
// against the config file's directory.
func Load(path string) (*Cascade, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	cfg := &Cascade{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(abs)

	for i := range cfg.Repos {
		r := &cfg.Repos[i]
		if r.Name == "" {
			return nil, fmt.Errorf("%s: repo %d has no name", path, i)
		}
		if r.Role == "" {
			r.Role = string(domain.RoleConsumer)
		}
		if r.Language == "" {
			r.Language = "unknown"
		}
		p := r.Path
		if p == "" {
			p = "."
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(cfg.Dir, p)
		}
		r.resolvedPath = filepath.Clean(p)
	}

	return cfg, nil
}

// Find locates a cascade.yaml near the working directory when no
// explicit path was given.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(cwd, "cascade.yaml"),
		filepath.Join(cwd, "cascade.yml"),
		filepath.Join(cwd, "demo", "cascade.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no cascade.yaml found: run 'cascade init' or pass --config")
}
