package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapflow/internal/dags"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

// DefaultRunsLimit caps run listings without a limit parameter.
const DefaultRunsLimit = 20

// DAGInfo is a registered DAG in listings.
type DAGInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Stages      []string `json:"stages"`
	ActiveRun   string   `json:"active_run,omitempty"`
}

// DAGDetail is a DAG summary with its active run.
type DAGDetail struct {
	*dags.Summary
	ActiveRun string `json:"active_run,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDAGs(w http.ResponseWriter, _ *http.Request) {
	defs := dags.List()
	out := make([]DAGInfo, 0, len(defs))
	for _, d := range defs {
		active, _ := s.engine.ActiveRun(d.ID)
		out = append(out, DAGInfo{ID: d.ID, Description: d.Description, Stages: d.Stages, ActiveRun: active})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDAG(w http.ResponseWriter, r *http.Request) {
	dagID := chi.URLParam(r, "dagID")
	summary, err := s.engine.Describe(dagID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	active, _ := s.engine.ActiveRun(dagID)
	writeJSON(w, http.StatusOK, DAGDetail{Summary: summary, ActiveRun: active})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	dagID := chi.URLParam(r, "dagID")
	// Requests that cannot start a run do not spend the trigger budget.
	if _, err := dags.Get(dagID); err != nil {
		s.writeError(w, err)
		return
	}
	if id, active := s.engine.ActiveRun(dagID); active {
		s.writeError(w, &engine.RunInProgressError{DAGID: dagID, RunID: id})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many run requests"})
		return
	}

	run, err := s.engine.Start(r.Context(), s.runCtx, dagID, core.TriggerAPI)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("run triggered", "dag", dagID, "run_id", run.ID)
	w.Header().Set("Location", "/api/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) listDAGRuns(w http.ResponseWriter, r *http.Request) {
	dagID := chi.URLParam(r, "dagID")
	if _, err := dags.Get(dagID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRuns(w, r, dagID)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.writeRuns(w, r, r.URL.Query().Get("dag"))
}

func (s *Server) writeRuns(w http.ResponseWriter, r *http.Request, dagID string) {
	limit := DefaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.engine.Runs(r.Context(), dagID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*core.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.RunDetail(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// events streams run events as signal patches until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	updates := s.engine.Events().Subscribe()
	defer s.engine.Events().Unsubscribe(updates)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.MarshalAndPatchSignals(map[string]any{"run_event": ev}); err != nil {
				_ = sse.ConsoleError(err)
				return
			}
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		unknown *dags.UnknownDAGError
		invalid *engine.InvalidDAGError
		busy    *engine.RunInProgressError
	)
	switch {
	case errors.As(err, &unknown), engine.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &busy):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), RunID: busy.RunID})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
