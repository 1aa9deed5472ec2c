package domain

import "time"

// RepoState tracks one repo's progress through a propagation run.
// It is owned and mutated exclusively by the task driving that repo's
// pipeline; everyone else sees copies taken with Snapshot.
type RepoState struct {
	RepoName      string      `json:"repo_name"`
	RepoPath      string      `json:"repo_path"`
	Language      string      `json:"language"`
	Status        Status      `json:"status"`
	Branch        string      `json:"branch,omitempty"`
	StartedAt     time.Time   `json:"started_at,omitempty"`
	FinishedAt    time.Time   `json:"finished_at,omitempty"`
	LastInvoke    *Invocation `json:"last_invocation,omitempty"`
	TestPassed    bool        `json:"test_passed"`
	TestOutput    string      `json:"test_output,omitempty"`
	ReviewSummary string      `json:"review_summary,omitempty"`
	FilesChanged  []string    `json:"files_changed,omitempty"`
	DiffStat      string      `json:"diff_stat,omitempty"`
	Error         string      `json:"error,omitempty"`
	RetriesUsed   int         `json:"retries_used"`
	PRURL         string      `json:"pr_url,omitempty"`
	Pushed        bool        `json:"pushed"`
}

// NewRepoState creates the initial waiting state for a repo.
func NewRepoState(name, path, language string) *RepoState {
	return &RepoState{
		RepoName: name,
		RepoPath: path,
		Language: language,
		Status:   StatusWaiting,
	}
}

// Duration returns the elapsed pipeline time for this repo.
func (r *RepoState) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// Success reports whether the pipeline completed.
func (r *RepoState) Success() bool {
	return r.Status == StatusDone
}

// Snapshot returns a deep copy safe to hand to subscribers and
// serializers while the owning task keeps mutating the original.
func (r *RepoState) Snapshot() *RepoState {
	cp := *r
	if r.FilesChanged != nil {
		cp.FilesChanged = append([]string(nil), r.FilesChanged...)
	}
	if r.LastInvoke != nil {
		inv := *r.LastInvoke
		cp.LastInvoke = &inv
	}
	return &cp
}
