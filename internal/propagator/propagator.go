// Package propagator is the orchestration engine: a per-repo pipeline
// controller that drives branch, adapt, test, fix, review, commit and
// push stages across many repositories concurrently.
//
// Pipeline per repo:
//
//	branch -> adapt (agent -y) -> test -> [fix loop] -> review (diff | agent --json) -> commit -> [push]
//
// Each repo's pipeline runs as its own task and owns its RepoState
// exclusively. Failures are contained per repo: one repo crashing
// never aborts its siblings, and every terminal path restores the
// working tree to the branch the repo started on.
package propagator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/gitops"
	"github.com/cascadehq/cascade/internal/hosting"
	"github.com/cascadehq/cascade/internal/prompts"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/semaphore"
)

const (
	testTimeout   = 2 * time.Minute
	reviewTimeout = 2 * time.Minute
	maxFixOutput  = 3000 // test-output characters embedded in fix prompts
)

// Propagator orchestrates agent invocations across the configured
// repositories. Repo-pipeline concurrency is bounded by its own
// semaphore, independent of the invoker's agent-process limit; the
// effective process concurrency is the minimum of the two.
type Propagator struct {
	cfg     *config.Cascade
	invoker *agent.Invoker
	bus     *events.Bus
	prompts *prompts.Loader
	repoSem *semaphore.Weighted
}

// New creates a Propagator. A nil bus gets a private one; a nil loader
// uses the embedded templates with the config dir's overrides.
func New(cfg *config.Cascade, invoker *agent.Invoker, bus *events.Bus, loader *prompts.Loader) *Propagator {
	if bus == nil {
		bus = events.NewBus()
	}
	if loader == nil {
		loader = prompts.DefaultLoader(cfg.Dir)
	}
	maxParallel := cfg.Settings.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Propagator{
		cfg:     cfg,
		invoker: invoker,
		bus:     bus,
		prompts: loader,
		repoSem: semaphore.NewWeighted(int64(maxParallel)),
	}
}

// Bus returns the event bus lifecycle events are published on.
func (p *Propagator) Bus() *events.Bus { return p.bus }

// Run propagates one change description across every configured repo
// and returns the aggregated result. It blocks until all repo
// pipelines reach a terminal state.
func (p *Propagator) Run(ctx context.Context, change string, dryRun bool) *domain.RunResult {
	result := &domain.RunResult{
		ChangeDescription: change,
		StartedAt:         time.Now(),
	}

	for _, rc := range p.cfg.Repos {
		result.Repos = append(result.Repos, domain.NewRepoState(rc.Name, rc.ResolvedPath(), rc.Language))
	}
	p.bus.Publish(domain.Event{Type: domain.EventRunStarted, Run: result.Snapshot()})

	var wg sync.WaitGroup
	for i, rc := range p.cfg.Repos {
		st := result.Repos[i]
		wg.Add(1)
		go func(rc config.Repo, st *domain.RepoState) {
			defer wg.Done()
			if err := p.repoSem.Acquire(ctx, 1); err != nil {
				st.Status = domain.StatusFailed
				st.Error = fmt.Sprintf("canceled before start: %v", err)
				st.FinishedAt = time.Now()
				p.emitRepo(domain.EventFailed, st)
				return
			}
			defer p.repoSem.Release(1)
			p.runRepo(ctx, rc, st, change, dryRun)
		}(rc, st)
	}
	wg.Wait()

	result.FinishedAt = time.Now()
	p.bus.Publish(domain.Event{Type: domain.EventRunCompleted, Run: result.Snapshot()})
	return result
}

// runRepo drives one repo's pipeline to a terminal state. It is the
// outer error boundary for the repo task: any panic is converted into
// a failed terminal state with best-effort rollback.
func (p *Propagator) runRepo(ctx context.Context, rc config.Repo, st *domain.RepoState, change string, dryRun bool) {
	log := clog.FromContext(ctx).With("repo", rc.Name)
	st.StartedAt = time.Now()
	git := gitops.New(rc.ResolvedPath())
	settings := p.cfg.Settings

	baseBranch := ""
	rollback := func() {
		if baseBranch == "" {
			return
		}
		if err := git.Checkout(ctx, baseBranch); err != nil {
			log.With("branch", baseBranch).With("error", err).
				Warn("rollback checkout failed")
		}
	}

	defer func() {
		if r := recover(); r != nil {
			st.Status = domain.StatusFailed
			st.Error = fmt.Sprintf("panic: %v", r)
			st.FinishedAt = time.Now()
			p.emitRepo(domain.EventFailed, st)
			rollback()
		}
	}()

	fail := func(msg string) {
		st.Status = domain.StatusFailed
		st.Error = msg
		st.FinishedAt = time.Now()
		p.emitRepo(domain.EventFailed, st)
		rollback()
	}
	skip := func(msg string) {
		st.Status = domain.StatusSkipped
		st.Error = msg
		st.FinishedAt = time.Now()
		p.emitRepo(domain.EventSkipped, st)
		rollback()
	}

	// 0. Ensure the repo has version-control history and record the
	// branch to restore on every terminal path.
	if err := git.EnsureRepo(ctx); err != nil {
		fail(fmt.Sprintf("ensuring git repo: %v", err))
		return
	}
	base, err := git.CurrentBranch(ctx)
	if err != nil {
		fail(fmt.Sprintf("reading current branch: %v", err))
		return
	}
	baseBranch = base

	// 1. Create (or reuse) the isolated working branch.
	st.Status = domain.StatusBranching
	branch := settings.BranchPrefix + rc.Name
	if err := git.CreateBranch(ctx, branch); err != nil {
		if err := git.Checkout(ctx, branch); err != nil {
			fail(fmt.Sprintf("creating branch %s: %v", branch, err))
			return
		}
	}
	st.Branch = branch
	p.emitRepo(domain.EventBranching, st)

	if dryRun {
		skip("")
		return
	}

	// 2. Adapt: the agent applies the change in auto-approve mode.
	st.Status = domain.StatusAdapting
	p.emitRepo(domain.EventAdapting, st)

	adaptPrompt, err := p.prompts.Render(prompts.Adapt, map[string]string{
		"CHANGE":    change,
		"REPO_NAME": rc.Name,
		"LANGUAGE":  rc.Language,
	})
	if err != nil {
		fail(fmt.Sprintf("rendering adapt prompt: %v", err))
		return
	}

	adapt := p.invoker.Invoke(ctx, agent.Spec{
		Prompt:      adaptPrompt,
		Dir:         rc.ResolvedPath(),
		AutoApprove: true,
		Model:       settings.Model,
		Timeout:     settings.RepoTimeout(),
		OnOutput: func(line string) {
			p.bus.Publish(domain.Event{Type: domain.EventOutput, Repo: rc.Name, Line: line})
		},
	})
	st.LastInvoke = adapt

	if !adapt.Success {
		msg := adapt.Error
		if msg == "" {
			msg = "agent adaptation failed"
		}
		fail(msg)
		return
	}

	// 3. No changes produced means nothing to propagate here.
	changed, err := git.HasChanges(ctx)
	if err != nil {
		fail(fmt.Sprintf("checking working tree: %v", err))
		return
	}
	if !changed {
		skip("no file changes produced")
		return
	}

	// 4. Test, with a bounded agent-repair loop on failure.
	if rc.TestCmd != "" {
		st.Status = domain.StatusTesting
		p.emitRepo(domain.EventTesting, st)

		passed, output := runTests(ctx, rc)
		st.TestOutput = output

		for retries := 0; !passed && settings.RetryOnTestFail && retries < settings.MaxRetries; {
			retries++
			st.RetriesUsed = retries
			st.Status = domain.StatusFixing
			p.emitRepo(domain.EventFixing, st)

			fixPrompt, err := p.prompts.Render(prompts.Fix, map[string]string{
				"CHANGE":      change,
				"REPO_NAME":   rc.Name,
				"TEST_OUTPUT": truncate(output, maxFixOutput),
			})
			if err != nil {
				fail(fmt.Sprintf("rendering fix prompt: %v", err))
				return
			}
			fix := p.invoker.Invoke(ctx, agent.Spec{
				Prompt:      fixPrompt,
				Dir:         rc.ResolvedPath(),
				AutoApprove: true,
				Model:       settings.Model,
				Timeout:     settings.RepoTimeout(),
			})
			st.LastInvoke = fix

			passed, output = runTests(ctx, rc)
			st.TestOutput = output
		}

		st.TestPassed = passed
		if !passed {
			fail("tests failed after retries")
			return
		}
	} else {
		st.TestPassed = true
	}

	// 5. Self-review: pipe the diff to the agent in structured mode.
	// Review failure is a warning, never fatal.
	st.Status = domain.StatusReviewing
	p.emitRepo(domain.EventReviewing, st)

	if diff, err := git.Diff(ctx, false); err == nil && diff != "" {
		reviewPrompt, err := p.prompts.Render(prompts.Review, map[string]string{"CHANGE": change})
		if err == nil {
			review := p.invoker.Invoke(ctx, agent.Spec{
				Prompt:     reviewPrompt,
				JSONOutput: true,
				Stdin:      diff,
				Model:      settings.Model,
				Timeout:    reviewTimeout,
			})
			if review.Success {
				st.ReviewSummary = review.TextOutput()
			} else {
				log.With("error", review.Error).Warn("review invocation failed")
			}
		}
	}

	// 6. Stage and commit.
	st.Status = domain.StatusCommitting
	p.emitRepo(domain.EventCommitting, st)

	if err := git.StageAll(ctx); err != nil {
		fail(fmt.Sprintf("staging changes: %v", err))
		return
	}
	staged, err := git.HasStagedChanges(ctx)
	if err != nil {
		fail(fmt.Sprintf("checking staged changes: %v", err))
		return
	}
	if staged {
		if st.FilesChanged, err = git.DiffNameOnly(ctx, true); err != nil {
			fail(fmt.Sprintf("listing changed files: %v", err))
			return
		}
		if st.DiffStat, err = git.DiffStat(ctx, true); err != nil {
			fail(fmt.Sprintf("reading diff stat: %v", err))
			return
		}
		if err := git.Commit(ctx, CommitMessage(change)); err != nil {
			fail(fmt.Sprintf("committing: %v", err))
			return
		}
	}

	// 7. Push and open a PR for repos with a remote. Failures here are
	// warnings; the pipeline still completes.
	if rc.IsGitHub() {
		st.Status = domain.StatusPushing
		p.emitRepo(domain.EventPushing, st)
		p.pushAndOpenPR(ctx, rc, st, change, baseBranch, branch)
	}

	st.Status = domain.StatusDone
	st.FinishedAt = time.Now()
	p.emitRepo(domain.EventDone, st)
	rollback()
}

func (p *Propagator) pushAndOpenPR(ctx context.Context, rc config.Repo, st *domain.RepoState, change, base, branch string) {
	log := clog.FromContext(ctx).With("repo", rc.Name)

	if err := hosting.PushBranch(ctx, rc.ResolvedPath(), branch); err != nil {
		log.With("error", err).Warn("push failed")
		p.bus.Publish(domain.Event{
			Type: domain.EventOutput,
			Repo: rc.Name,
			Line: fmt.Sprintf("Push warning: %v", err),
		})
		return
	}
	st.Pushed = true

	body := fmt.Sprintf("## Cascade Auto-Propagation\n\n**Change:** %s\n\n**Files changed:** %d\n\n---\n*Created by Cascade.*",
		change, len(st.FilesChanged))
	pr := hosting.CreatePR(ctx, rc.ResolvedPath(), CommitMessage(change), body, base, branch)
	if pr.Success {
		st.PRURL = pr.PRURL
	} else {
		log.With("error", pr.Error).Warn("PR creation failed")
		p.bus.Publish(domain.Event{
			Type: domain.EventOutput,
			Repo: rc.Name,
			Line: fmt.Sprintf("PR warning: %s", pr.Error),
		})
	}
}

func (p *Propagator) emitRepo(t domain.EventType, st *domain.RepoState) {
	p.bus.Publish(domain.Event{Type: t, Repo: st.RepoName, State: st.Snapshot()})
}

// runTests executes the repo's test command under a bounded timeout.
// Both non-zero exit and timeout come back as (false, output).
func runTests(ctx context.Context, rc config.Repo) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", rc.TestCmd)
	cmd.Dir = rc.ResolvedPath()
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return false, "test command timed out"
	}
	return err == nil, string(out)
}

// CommitMessage derives the branch commit message from the change
// description.
func CommitMessage(change string) string {
	return "cascade: " + truncate(change, 60)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}
