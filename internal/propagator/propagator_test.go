package propagator

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/gitops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAgent builds a shell script standing in for the agent CLI. The
// adapt script body runs when the prompt is an adaptation request;
// repair and review requests are handled generically.
func stubAgent(t *testing.T, adaptBody string) *agent.Invoker {
	t.Helper()
	script := `#!/bin/sh
for last; do :; done
case "$last" in
  *"tests are failing"*)
    echo "fixed" > app.txt
    ;;
  *"Review the following"*)
    echo '{"type":"say","text":"change looks consistent"}'
    ;;
  *)
` + adaptBody + `
    ;;
esac
`
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return agent.New(path, 4, time.Minute)
}

func gitIdentity(t *testing.T) {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("GIT_CONFIG_GLOBAL", "/dev/null")
	t.Setenv("GIT_CONFIG_SYSTEM", "/dev/null")
}

// newRepoDir creates a committed git repo to propagate into.
func newRepoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("original\n"), 0o644))
	g := gitops.New(dir)
	require.NoError(t, g.EnsureRepo(context.Background()))
	return dir
}

func testConfig(repos ...config.Repo) *config.Cascade {
	return &config.Cascade{
		Name:     "test",
		Repos:    repos,
		Settings: config.DefaultSettings(),
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) record(e domain.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "adapted" > app.txt`)

	cfg := testConfig(config.Repo{
		Name: "backend", Path: dir, Language: "python",
		TestCmd: "grep -q adapted app.txt",
	})

	bus := events.NewBus()
	log := &eventLog{}
	bus.Subscribe(log.record)

	result := New(cfg, iv, bus, nil).Run(context.Background(), "rename first_name to full_name", false)

	require.Len(t, result.Repos, 1)
	st := result.Repos[0]
	assert.Equal(t, domain.StatusDone, st.Status)
	assert.Equal(t, "cascade/backend", st.Branch)
	assert.True(t, st.TestPassed)
	assert.Equal(t, 0, st.RetriesUsed)
	assert.Equal(t, []string{"app.txt"}, st.FilesChanged)
	assert.Contains(t, st.ReviewSummary, "consistent")
	assert.Equal(t, 1, result.SuccessCount())

	// the work is committed on the branch and the base branch restored
	g := gitops.New(dir)
	base, err := g.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "cascade/backend", base)
	assert.True(t, g.BranchExists("cascade/backend"))

	types := log.types()
	assert.Equal(t, domain.EventRunStarted, types[0])
	assert.Equal(t, domain.EventRunCompleted, types[len(types)-1])
	assert.Contains(t, types, domain.EventAdapting)
	assert.Contains(t, types, domain.EventTesting)
	assert.Contains(t, types, domain.EventDone)
}

func TestRunNoChangesSkips(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    true`)

	cfg := testConfig(config.Repo{Name: "docs", Path: dir})
	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusSkipped, st.Status)
	assert.Equal(t, "no file changes produced", st.Error)
	assert.Equal(t, 0, result.FailCount())
}

func TestRunDryRunSkips(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "should never run" > app.txt`)

	cfg := testConfig(config.Repo{Name: "backend", Path: dir})
	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", true)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusSkipped, st.Status)

	// the branch was created, but the agent never ran
	data, err := os.ReadFile(filepath.Join(dir, "app.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
	assert.True(t, gitops.New(dir).BranchExists("cascade/backend"))
}

func TestRunFixLoopRecovers(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	// adaptation produces failing code; the repair pass writes "fixed"
	iv := stubAgent(t, `    echo "broken" > app.txt`)

	cfg := testConfig(config.Repo{
		Name: "backend", Path: dir,
		TestCmd: "grep -q fixed app.txt",
	})

	bus := events.NewBus()
	log := &eventLog{}
	bus.Subscribe(log.record)

	result := New(cfg, iv, bus, nil).Run(context.Background(), "a change", false)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusDone, st.Status)
	assert.True(t, st.TestPassed)
	assert.Equal(t, 1, st.RetriesUsed)
	assert.Contains(t, log.types(), domain.EventFixing)
}

func TestRunFixLoopExhaustsRetries(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "broken" > app.txt`)

	cfg := testConfig(config.Repo{
		Name: "backend", Path: dir,
		TestCmd: "false", // never passes
	})
	cfg.Settings.MaxRetries = 2

	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, "tests failed after retries", st.Error)
	assert.Equal(t, 2, st.RetriesUsed)
	assert.False(t, st.TestPassed)

	// base branch restored on failure
	base, err := gitops.New(dir).CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "cascade/backend", base)
}

func TestRunRetryDisabled(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "broken" > app.txt`)

	cfg := testConfig(config.Repo{
		Name: "backend", Path: dir,
		TestCmd: "grep -q fixed app.txt",
	})
	cfg.Settings.RetryOnTestFail = false

	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, 0, st.RetriesUsed)
}

func TestRunAgentFailureIsContained(t *testing.T) {
	gitIdentity(t)
	goodDir := newRepoDir(t)
	badDir := newRepoDir(t)

	// the agent fails only inside badDir
	script := `    if [ "$(pwd)" = "` + badDir + `" ]; then exit 1; fi
    echo "adapted" > app.txt`
	iv := stubAgent(t, script)

	cfg := testConfig(
		config.Repo{Name: "good", Path: goodDir, TestCmd: "grep -q adapted app.txt"},
		config.Repo{Name: "bad", Path: badDir},
	)

	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	byName := map[string]*domain.RepoState{}
	for _, st := range result.Repos {
		byName[st.RepoName] = st
	}
	assert.Equal(t, domain.StatusDone, byName["good"].Status)
	assert.Equal(t, domain.StatusFailed, byName["bad"].Status)
	assert.NotEmpty(t, byName["bad"].Error)
	assert.Equal(t, 1, result.SuccessCount())
	assert.Equal(t, 1, result.FailCount())
}

func TestRunMissingAgentBinary(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := agent.New("definitely-not-installed-zzz", 1, time.Minute)

	cfg := testConfig(config.Repo{Name: "backend", Path: dir})
	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	st := result.Repos[0]
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "not found")
}

func TestRunBranchReused(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "adapted" > app.txt`)

	cfg := testConfig(config.Repo{Name: "backend", Path: dir, TestCmd: "true"})
	p := New(cfg, iv, events.NewBus(), nil)

	first := p.Run(context.Background(), "change one", false)
	require.Equal(t, domain.StatusDone, first.Repos[0].Status)

	// second run reuses the existing cascade/backend branch
	second := p.Run(context.Background(), "change two", false)
	assert.Equal(t, domain.StatusSkipped, second.Repos[0].Status)
}

func TestRunRepoConcurrencyBound(t *testing.T) {
	gitIdentity(t)

	// The stub reports how many agent processes run at once via a shared
	// counter directory; with a generous invoker limit the repo-pipeline
	// semaphore is the binding constraint.
	counter := t.TempDir()
	script := `#!/bin/sh
mkdir "` + counter + `/running.$$"
count=$(ls -d "` + counter + `"/running.* | wc -l)
echo "$count" >> "` + counter + `/observed"
sleep 0.2
rmdir "` + counter + `/running.$$"
if [ -f app.txt ]; then echo "adapted" > app.txt; fi
`
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	iv := agent.New(path, 16, time.Minute)

	var repos []config.Repo
	for i := 0; i < 5; i++ {
		repos = append(repos, config.Repo{
			Name: "repo" + strconv.Itoa(i), Path: newRepoDir(t),
		})
	}
	cfg := testConfig(repos...)
	cfg.Settings.MaxParallel = 2

	result := New(cfg, iv, events.NewBus(), nil).Run(context.Background(), "a change", false)

	for _, st := range result.Repos {
		assert.Equal(t, domain.StatusDone, st.Status, st.RepoName)
	}

	data, err := os.ReadFile(filepath.Join(counter, "observed"))
	require.NoError(t, err)
	for _, line := range strings.Fields(string(data)) {
		n, err := strconv.Atoi(line)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2)
	}
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "cascade: rename a field", CommitMessage("rename a field"))

	long := "this change description is quite long and will definitely exceed the sixty character limit"
	msg := CommitMessage(long)
	assert.LessOrEqual(t, len(msg), len("cascade: ")+60)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// a multi-byte rune straddling the cut must not be split
	change := strings.Repeat("a", 59) + "äbc"
	out := truncate(change, 60)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("a", 59), out)

	msg := CommitMessage(strings.Repeat("ü", 40))
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), len("cascade: ")+60)

	assert.Equal(t, "short", truncate("short", 60))
}

func TestRunOutputEventsFlow(t *testing.T) {
	gitIdentity(t)
	dir := newRepoDir(t)
	iv := stubAgent(t, `    echo "line from agent"
    echo "adapted" > app.txt`)

	cfg := testConfig(config.Repo{Name: "backend", Path: dir, TestCmd: "true"})

	bus := events.NewBus()
	var mu sync.Mutex
	var lines []string
	bus.Subscribe(func(e domain.Event) {
		if e.Type == domain.EventOutput {
			mu.Lock()
			lines = append(lines, e.Line)
			mu.Unlock()
		}
	})

	New(cfg, iv, bus, nil).Run(context.Background(), "a change", false)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lines, "line from agent")
}
