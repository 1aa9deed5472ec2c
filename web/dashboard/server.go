// Package dashboard serves the live monitoring UI: JSON endpoints for
// drift detection and run control plus a WebSocket event stream.
package dashboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/runstore"
)

//go:embed index.html
var indexHTML []byte

// Server is the dashboard HTTP server.
type Server struct {
	configPath string
	invoker    *agent.Invoker
	bus        *events.Bus
	store      *runstore.Store
	addr       string
	mux        *http.ServeMux
	hub        *Hub

	mu         sync.Mutex
	running    bool
	currentRun *domain.RunResult
}

// NewServer creates a dashboard server. The store may be nil; history
// endpoints then return empty results. Lifecycle events from bus are
// forwarded to WebSocket clients.
func NewServer(configPath string, invoker *agent.Invoker, bus *events.Bus, store *runstore.Store, addr string) *Server {
	s := &Server{
		configPath: configPath,
		invoker:    invoker,
		bus:        bus,
		store:      store,
		addr:       addr,
		mux:        http.NewServeMux(),
		hub:        NewHub(),
	}
	bus.Subscribe(s.hub.Broadcast)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.healthHandler())
	s.mux.HandleFunc("/api/detect", s.detectHandler())
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/run", s.runHandler())
	s.mux.HandleFunc("/ws", s.hub.Handler())

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Write(indexHTML)
	})
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) loadConfig() (*config.Cascade, error) {
	path, err := config.Find(s.configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// setRunning flips the single-run latch; it reports whether the caller
// acquired it.
func (s *Server) setRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Server) finishRun(result *domain.RunResult) {
	s.mu.Lock()
	s.running = false
	s.currentRun = result
	s.mu.Unlock()

	if s.store != nil && result != nil {
		s.store.SaveRun(result)
	}
}

// runContext is the background context for runs triggered over HTTP;
// they outlive the triggering request.
func (s *Server) runContext() context.Context {
	return context.Background()
}
