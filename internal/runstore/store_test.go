package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(change string) *domain.RunResult {
	now := time.Now().Truncate(time.Second)
	return &domain.RunResult{
		ChangeDescription: change,
		StartedAt:         now.Add(-time.Minute),
		FinishedAt:        now,
		Repos: []*domain.RepoState{
			{RepoName: "backend", Status: domain.StatusDone, Branch: "cascade/backend",
				FilesChanged: []string{"models.py"}, TestPassed: true},
			{RepoName: "frontend", Status: domain.StatusFailed,
				Error: "tests failed after retries", RetriesUsed: 2},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newStore(t)

	id, err := s.SaveRun(sampleRun("rename field"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "rename field", got.ChangeDescription)
	require.Len(t, got.Repos, 2)
	assert.Equal(t, domain.StatusDone, got.Repos[0].Status)
	assert.Equal(t, []string{"models.py"}, got.Repos[0].FilesChanged)
	assert.Equal(t, 2, got.Repos[1].RetriesUsed)
}

func TestGetRunUnknownID(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun("nope")
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newStore(t)

	first := sampleRun("first change")
	first.StartedAt = time.Now().Add(-2 * time.Hour)
	_, err := s.SaveRun(first)
	require.NoError(t, err)

	second := sampleRun("second change")
	_, err = s.SaveRun(second)
	require.NoError(t, err)

	records, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second change", records[0].ChangeDescription)
	assert.Equal(t, "first change", records[1].ChangeDescription)
	assert.Equal(t, 2, records[0].ReposTotal)
	assert.Equal(t, 1, records[0].ReposSuccess)
	assert.Equal(t, 1, records[0].ReposFailed)
}

func TestListRunsLimit(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 5; i++ {
		run := sampleRun("change")
		run.StartedAt = time.Now().Add(time.Duration(i) * time.Minute)
		_, err := s.SaveRun(run)
		require.NoError(t, err)
	}
	records, err := s.ListRuns(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestLatestRun(t *testing.T) {
	s := newStore(t)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = s.SaveRun(sampleRun("only change"))
	require.NoError(t, err)

	latest, err = s.LatestRun()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "only change", latest.ChangeDescription)
}
