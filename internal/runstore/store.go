// Package runstore provides SQLite-backed persistence of completed
// propagation runs.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the run database at dbPath, creating
// parent directories as needed.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is one persisted run, as listed by ListRuns.
type RunRecord struct {
	ID                string    `json:"id"`
	ChangeDescription string    `json:"change_description"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	ReposTotal        int       `json:"repos_total"`
	ReposSuccess      int       `json:"repos_success"`
	ReposFailed       int       `json:"repos_failed"`
}

// SaveRun persists a completed run and its per-repo results, returning
// the generated run ID.
func (s *Store) SaveRun(result *domain.RunResult) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, change_description, started_at, finished_at, repos_total, repos_success, repos_failed, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		result.ChangeDescription,
		result.StartedAt,
		result.FinishedAt,
		len(result.Repos),
		result.SuccessCount(),
		result.FailCount(),
		string(payload),
	)
	if err != nil {
		return "", err
	}

	for _, repo := range result.Repos {
		_, err = tx.Exec(`
			INSERT INTO repo_results (run_id, repo_name, status, branch, error, files_changed, retries_used, pr_url, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			repo.RepoName,
			string(repo.Status),
			repo.Branch,
			repo.Error,
			len(repo.FilesChanged),
			repo.RetriesUsed,
			repo.PRURL,
			repo.StartedAt,
			repo.FinishedAt,
		)
		if err != nil {
			return "", err
		}
	}

	return id, tx.Commit()
}

// GetRun retrieves a persisted run's full result by ID.
func (s *Store) GetRun(id string) (*domain.RunResult, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		return nil, err
	}

	var result domain.RunResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, change_description, started_at, finished_at, repos_total, repos_success, repos_failed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.ChangeDescription, &r.StartedAt, &r.FinishedAt,
			&r.ReposTotal, &r.ReposSuccess, &r.ReposFailed); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestRun returns the most recently started run, or nil when the
// store is empty.
func (s *Store) LatestRun() (*domain.RunResult, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRun(id)
}
