package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    change_description TEXT NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    repos_total INTEGER DEFAULT 0,
    repos_success INTEGER DEFAULT 0,
    repos_failed INTEGER DEFAULT 0,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS repo_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    repo_name TEXT NOT NULL,
    status TEXT NOT NULL,
    branch TEXT,
    error TEXT,
    files_changed INTEGER DEFAULT 0,
    retries_used INTEGER DEFAULT 0,
    pr_url TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_repo_results_run_id ON repo_results(run_id);
CREATE INDEX IF NOT EXISTS idx_repo_results_status ON repo_results(status);
`
