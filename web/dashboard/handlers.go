package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/cascadehq/cascade/internal/detector"
	"github.com/cascadehq/cascade/internal/propagator"
	"github.com/cascadehq/cascade/internal/runstore"
)

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"status":  "ok",
			"running": running,
			"clients": s.hub.ClientCount(),
		})
	}
}

func (s *Server) detectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := s.loadConfig()
		if err != nil {
			writeJSON(w, map[string]interface{}{
				"status":         "error",
				"change_summary": err.Error(),
				"repos":          []interface{}{},
			})
			return
		}
		report := detector.New(cfg.Settings.Drift).Detect(cfg)
		writeJSON(w, report.Payload())
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		running := s.running
		current := s.currentRun
		s.mu.Unlock()

		historyCount := 0
		if s.store != nil {
			if records, err := s.store.ListRuns(0); err == nil {
				historyCount = len(records)
			}
		}

		resp := map[string]interface{}{
			"running":       running,
			"history_count": historyCount,
		}
		if current != nil {
			resp["current_run"] = current
		}
		writeJSON(w, resp)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var records []runstore.RunRecord
		if s.store != nil {
			var err error
			if records, err = s.store.ListRuns(20); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		if records == nil {
			records = []runstore.RunRecord{}
		}
		writeJSON(w, map[string]interface{}{"runs": records})
	}
}

type runRequest struct {
	Change string `json:"change"`
	DryRun bool   `json:"dry_run"`
}

func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Change == "" {
			writeError(w, http.StatusBadRequest, "change is required")
			return
		}

		cfg, err := s.loadConfig()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if !s.setRunning() {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}

		go func() {
			prop := propagator.New(cfg, s.invoker, s.bus, nil)
			result := prop.Run(s.runContext(), req.Change, req.DryRun)
			s.finishRun(result)
		}()

		writeJSON(w, map[string]interface{}{
			"status": "started",
			"change": req.Change,
		})
	}
}
