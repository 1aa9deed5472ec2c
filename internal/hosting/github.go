// Package hosting wraps the remote-hosting primitives: pushing
// branches, opening pull requests through the gh CLI, and cloning
// repos into a workspace.
package hosting

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	shortRepoRe  = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)$`)
	githubURLRe  = regexp.MustCompile(`github\.com[:/]([\w.-]+)/([\w.-]+?)(?:\.git)?$`)
	prNumberRe   = regexp.MustCompile(`/pull/(\d+)`)
	cloneTimeout = 5 * time.Minute
	cmdTimeout   = 2 * time.Minute
)

// PRResult is the outcome of a pull-request creation attempt.
type PRResult struct {
	RepoName string `json:"repo_name"`
	Branch   string `json:"branch"`
	PRURL    string `json:"pr_url"`
	PRNumber int    `json:"pr_number"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// CloneResult is the outcome of cloning a repo into the workspace.
type CloneResult struct {
	RepoURL       string `json:"repo_url"`
	LocalPath     string `json:"local_path"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

func run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return strings.TrimSpace(out.String()), strings.TrimSpace(errOut.String()), err
}

// ParseGitHubURL extracts owner and repo name from the URL formats the
// config accepts: https, ssh, and the short owner/repo form.
func ParseGitHubURL(url string) (owner, repo string) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")

	if m := shortRepoRe.FindStringSubmatch(url); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git")
	}
	if m := githubURLRe.FindStringSubmatch(url); m != nil {
		return m[1], m[2]
	}
	return "", url
}

// NormalizeCloneURL converts any accepted GitHub reference into an
// HTTPS clone URL.
func NormalizeCloneURL(url string) string {
	owner, repo := ParseGitHubURL(url)
	if owner != "" {
		return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	}
	return url
}

// CloneRepo clones a GitHub repo into the workspace directory,
// pulling instead when a clone already exists.
func CloneRepo(ctx context.Context, githubURL, workspaceDir string) CloneResult {
	_, name := ParseGitHubURL(githubURL)
	target := filepath.Join(workspaceDir, name)
	result := CloneResult{RepoURL: githubURL, Name: name}

	if fi, err := os.Stat(filepath.Join(target, ".git")); err == nil && fi.IsDir() {
		_, _, _ = run(ctx, target, cmdTimeout, "git", "pull", "--rebase")
		result.LocalPath = target
		result.Success = true
		result.DefaultBranch = DefaultBranch(ctx, target)
		return result
	}

	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		result.Error = err.Error()
		return result
	}

	_, stderr, err := run(ctx, "", cloneTimeout, "git", "clone", NormalizeCloneURL(githubURL), target)
	if err != nil {
		result.Error = stderr
		if result.Error == "" {
			result.Error = fmt.Sprintf("git clone: %v", err)
		}
		return result
	}

	result.LocalPath = target
	result.Success = true
	result.DefaultBranch = DefaultBranch(ctx, target)
	return result
}

// PushBranch pushes a branch to origin, setting upstream.
func PushBranch(ctx context.Context, repoDir, branch string) error {
	_, stderr, err := run(ctx, repoDir, cmdTimeout, "git", "push", "-u", "origin", branch)
	if err != nil {
		if stderr != "" {
			return fmt.Errorf("git push: %s", stderr)
		}
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// CreatePR opens a pull request through the gh CLI.
func CreatePR(ctx context.Context, repoDir, title, body, base, head string) PRResult {
	result := PRResult{RepoName: filepath.Base(repoDir), Branch: head}

	if _, err := exec.LookPath("gh"); err != nil {
		result.Error = "gh CLI not installed (install from https://cli.github.com)"
		return result
	}

	args := []string{"pr", "create", "--title", title, "--body", body, "--base", base}
	if head != "" {
		args = append(args, "--head", head)
	}
	out, stderr, err := run(ctx, repoDir, cmdTimeout, "gh", args...)
	if err != nil {
		result.Error = stderr
		if result.Error == "" {
			result.Error = fmt.Sprintf("gh pr create: %v", err)
		}
		return result
	}

	result.Success = true
	result.PRURL = out
	if m := prNumberRe.FindStringSubmatch(out); m != nil {
		result.PRNumber, _ = strconv.Atoi(m[1])
	}
	return result
}

// DefaultBranch returns the branch a fresh clone checks out, falling
// back to main.
func DefaultBranch(ctx context.Context, repoDir string) string {
	out, _, err := run(ctx, repoDir, cmdTimeout, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "" {
		return "main"
	}
	return out
}
