// Package gitops provides the git primitives the pipeline controller
// drives: branch, stage, commit, diff and push, each as a bounded
// subprocess with a distinguishable failure signal.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// commandTimeout bounds every git subprocess.
const commandTimeout = 30 * time.Second

// GitError is a failed git command: the arguments that ran and the
// stderr it produced.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// Git runs git operations scoped to a single repository path.
type Git struct {
	dir     string
	timeout time.Duration
}

// New creates a Git handle for the given repository directory.
func New(dir string) *Git {
	return &Git{dir: dir, timeout: commandTimeout}
}

// Dir returns the repository path this handle operates on.
func (g *Git) Dir() string { return g.dir }

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(out.String()), &GitError{
			Args:   args,
			Stderr: strings.TrimSpace(errOut.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// HasRepo reports whether the directory is inside a git repository.
func (g *Git) HasRepo() bool {
	_, err := gogit.PlainOpen(g.dir)
	return err == nil
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := gogit.PlainOpen(g.dir)
	if err != nil {
		return "", fmt.Errorf("opening repo %s: %w", g.dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		// Unborn HEAD in a fresh repo still names the branch via the
		// symbolic ref.
		return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String(), nil
}

// Init initializes a repository in the directory.
func (g *Git) Init(ctx context.Context) error {
	_, err := g.run(ctx, "init")
	return err
}

// EnsureRepo guarantees the directory has version-control history,
// creating the repo and an initial commit if absent. Idempotent.
func (g *Git) EnsureRepo(ctx context.Context) error {
	if g.HasRepo() {
		return nil
	}
	if err := g.Init(ctx); err != nil {
		return err
	}
	if err := g.StageAll(ctx); err != nil {
		return err
	}
	return g.Commit(ctx, "initial commit")
}

// CreateBranch creates and checks out a new branch.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", branch)
	return err
}

// BranchExists reports whether a local branch with the name exists.
func (g *Git) BranchExists(name string) bool {
	repo, err := gogit.PlainOpen(g.dir)
	if err != nil {
		return false
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), false)
	return err == nil
}

// StageAll stages every change in the working tree.
func (g *Git) StageAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// Commit records the staged changes with the given message.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// HasChanges reports whether the working tree has staged or unstaged
// changes.
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// HasStagedChanges reports whether anything is staged for commit.
func (g *Git) HasStagedChanges(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "diff", "--cached", "--quiet")
	if err != nil {
		// diff --quiet exits 1 when differences exist.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Diff returns the textual diff of the working tree, or of the index
// when staged is true.
func (g *Git) Diff(ctx context.Context, staged bool) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	return g.run(ctx, args...)
}

// DiffStat returns the diffstat summary.
func (g *Git) DiffStat(ctx context.Context, staged bool) (string, error) {
	args := []string{"diff", "--stat"}
	if staged {
		args = append(args, "--cached")
	}
	return g.run(ctx, args...)
}

// DiffNameOnly returns the list of changed file paths.
func (g *Git) DiffNameOnly(ctx context.Context, staged bool) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if staged {
		args = append(args, "--cached")
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\n") {
		if strings.TrimSpace(f) != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// Push pushes the branch to the remote, setting upstream.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	ref := branch
	if ref == "" {
		ref = "HEAD"
	}
	_, err := g.run(ctx, "push", "-u", remote, ref)
	return err
}

