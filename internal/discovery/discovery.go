// Package discovery runs the agent in structured-output mode against
// each repository to identify which files a change would touch,
// before any modification happens.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/prompts"
	"golang.org/x/sync/errgroup"
)

const discoverTimeout = 2 * time.Minute

// Result is the discovery outcome for a single repo.
type Result struct {
	RepoName      string             `json:"repo_name"`
	RepoPath      string             `json:"-"`
	Invocation    *domain.Invocation `json:"-"`
	AffectedFiles []string           `json:"affected_files"`
	Analysis      string             `json:"-"`
	Error         string             `json:"error,omitempty"`
	Duration      time.Duration      `json:"-"`
}

// Success reports whether the agent analysis completed.
func (r *Result) Success() bool {
	return r.Error == "" && r.Invocation != nil && r.Invocation.Success
}

// AnalysisPreview returns the first 500 characters of the analysis.
func (r *Result) AnalysisPreview() string {
	if len(r.Analysis) > 500 {
		return r.Analysis[:500]
	}
	return r.Analysis
}

// Runner fans discovery out across repos, bounded by the invoker's
// own agent-process semaphore.
type Runner struct {
	invoker *agent.Invoker
	prompts *prompts.Loader
	bus     *events.Bus
	model   string
}

func NewRunner(invoker *agent.Invoker, loader *prompts.Loader, bus *events.Bus, model string) *Runner {
	if bus == nil {
		bus = events.NewBus()
	}
	if loader == nil {
		loader = prompts.NewLoader()
	}
	return &Runner{invoker: invoker, prompts: loader, bus: bus, model: model}
}

// DiscoverRepo analyzes one repo. The agent runs read-only: no
// auto-approve, structured output, bounded timeout.
func (r *Runner) DiscoverRepo(ctx context.Context, repo config.Repo, change string) *Result {
	res := &Result{RepoName: repo.Name, RepoPath: repo.ResolvedPath()}

	r.bus.Publish(domain.Event{Type: domain.EventDiscoveryStarted, Repo: repo.Name})

	prompt, err := r.prompts.Render(prompts.Discover, map[string]string{"CHANGE": change})
	if err != nil {
		res.Error = err.Error()
		r.bus.Publish(domain.Event{Type: domain.EventDiscoveryCompleted, Repo: repo.Name})
		return res
	}

	inv := r.invoker.Invoke(ctx, agent.Spec{
		Prompt:     prompt,
		Dir:        repo.ResolvedPath(),
		JSONOutput: true,
		Model:      r.model,
		Timeout:    discoverTimeout,
	})
	res.Invocation = inv
	res.Duration = inv.Duration

	if inv.Success {
		res.Analysis = inv.TextOutput()
		res.AffectedFiles = ExtractFilePaths(res.Analysis, repo.ResolvedPath())
	} else {
		res.Error = inv.Error
		if res.Error == "" {
			res.Error = "agent invocation failed"
		}
	}

	r.bus.Publish(domain.Event{Type: domain.EventDiscoveryCompleted, Repo: repo.Name})
	return res
}

// DiscoverAll runs discovery across all repos concurrently. Results
// keep the config's repo order.
func (r *Runner) DiscoverAll(ctx context.Context, repos []config.Repo, change string) []*Result {
	results := make([]*Result, len(repos))
	g, ctx := errgroup.WithContext(ctx)
	for i, repo := range repos {
		g.Go(func() error {
			results[i] = r.DiscoverRepo(ctx, repo, change)
			return nil
		})
	}
	g.Wait()
	return results
}

var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile("`([^`]+\\.[a-zA-Z]{1,10})`"),
	regexp.MustCompile(`[\s:]([a-zA-Z_./][\w./\-]*\.[a-zA-Z]{1,10})`),
}

// ExtractFilePaths pulls file paths out of freeform analysis text,
// keeping only paths that exist under root. Order of first mention is
// preserved; duplicates are dropped.
func ExtractFilePaths(text, root string) []string {
	var out []string
	seen := map[string]bool{}
	for _, pat := range pathPatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			p := strings.TrimSpace(m[1])
			if p == "" || seen[p] {
				continue
			}
			if !strings.Contains(p, "/") && !strings.Contains(p, ".") {
				continue
			}
			if _, err := os.Stat(filepath.Join(root, p)); err != nil {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
