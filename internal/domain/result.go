package domain

import (
	"encoding/json"
	"time"
)

// RunResult aggregates the terminal per-repo states of one propagation
// run. It is finalized once by the controller and immutable after that.
type RunResult struct {
	ChangeDescription string       `json:"change_description"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at,omitempty"`
	Repos             []*RepoState `json:"repos"`
}

// Duration returns the wall-clock time of the run.
func (r *RunResult) Duration() time.Duration {
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// SuccessCount returns the number of repos that reached done.
func (r *RunResult) SuccessCount() int {
	n := 0
	for _, repo := range r.Repos {
		if repo.Success() {
			n++
		}
	}
	return n
}

// FailCount returns the number of repos that ended failed.
func (r *RunResult) FailCount() int {
	n := 0
	for _, repo := range r.Repos {
		if repo.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Snapshot returns a copy with snapshotted repo states, safe to publish
// while repo tasks may still be mutating their own states.
func (r *RunResult) Snapshot() *RunResult {
	cp := *r
	cp.Repos = make([]*RepoState, len(r.Repos))
	for i, repo := range r.Repos {
		cp.Repos[i] = repo.Snapshot()
	}
	return &cp
}

// summaryJSON is the stable serialization shape used for persistence
// and display.
type summaryJSON struct {
	ChangeDescription string       `json:"change_description"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at,omitempty"`
	DurationSeconds   float64      `json:"duration_seconds"`
	ReposTotal        int          `json:"repos_total"`
	ReposSuccess      int          `json:"repos_success"`
	ReposFailed       int          `json:"repos_failed"`
	Repos             []*RepoState `json:"repos"`
}

// MarshalJSON serializes the result together with its derived counts.
func (r *RunResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		ChangeDescription: r.ChangeDescription,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		DurationSeconds:   r.Duration().Seconds(),
		ReposTotal:        len(r.Repos),
		ReposSuccess:      r.SuccessCount(),
		ReposFailed:       r.FailCount(),
		Repos:             r.Repos,
	})
}

// UnmarshalJSON restores a result persisted with MarshalJSON.
func (r *RunResult) UnmarshalJSON(data []byte) error {
	var s summaryJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.ChangeDescription = s.ChangeDescription
	r.StartedAt = s.StartedAt
	r.FinishedAt = s.FinishedAt
	r.Repos = s.Repos
	return nil
}
