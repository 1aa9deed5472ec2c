package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/runstore"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *events.Bus, *runstore.Store) {
	t.Helper()
	dir := t.TempDir()

	repoDir := filepath.Join(dir, "backend")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))

	configPath := filepath.Join(dir, "cascade.yaml")
	cfg := `name: test-cascade
repos:
  - name: backend
    path: backend
    role: source
    language: python
settings:
  max_parallel: 2
`
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	store, err := runstore.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	srv := NewServer(configPath, agent.New("cline", 2, 0), bus, store, "127.0.0.1:0")
	return srv, bus, store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestDetectEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/detect", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "repos")
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _, store := testServer(t)

	_, err := store.SaveRun(&domain.RunResult{
		ChangeDescription: "rename field",
		StartedAt:         time.Now().Add(-time.Minute),
		FinishedAt:        time.Now(),
		Repos:             []*domain.RepoState{{RepoName: "backend", Status: domain.StatusDone}},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runstore.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "rename field", body.Runs[0].ChangeDescription)
}

func TestRunEndpointValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/run", strings.NewReader("{garbage")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/run", strings.NewReader(`{"change": ""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunEndpointConflict(t *testing.T) {
	srv, _, _ := testServer(t)

	// Occupy the single-run latch directly.
	require.True(t, srv.setRunning())

	body, _ := json.Marshal(runRequest{Change: "rename field", DryRun: true})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/run", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	srv.finishRun(nil)
	assert.True(t, srv.setRunning())
}

func TestIndexPage(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Cascade")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketReceivesEvents(t *testing.T) {
	srv, bus, _ := testServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens in the upgrade handler before it returns, so
	// a successful dial means the client is connected.
	require.Eventually(t, func() bool {
		return srv.hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish(domain.Event{Type: domain.EventAdapting, Repo: "backend"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsEvent
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, string(domain.EventAdapting), msg.Type)
	assert.Equal(t, "backend", msg.Data.Repo)
	assert.Greater(t, msg.TS, float64(0))
}

func TestHubDropsClosedClients(t *testing.T) {
	srv, bus, _ := testServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()

	// The read-drain goroutine notices the close and unregisters.
	require.Eventually(t, func() bool {
		return srv.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with no clients must not panic.
	bus.Publish(domain.Event{Type: domain.EventDone, Repo: "backend"})
}
