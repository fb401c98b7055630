package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/amishk599/jobsync/internal/dedup"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/orchestrator"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// SyncRequest is the body of POST /sync and POST /sync/stream.
type SyncRequest struct {
	SyncType string `json:"sync_type" validate:"required,oneof=job_sync discovery"`
	Source   string `json:"source,omitempty" validate:"omitempty,max=64"`
	// Wait holds the response until the run is terminal.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse answers a sync trigger.
type RunResponse struct {
	RunID   string          `json:"run_id"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Stats   *model.RunStats `json:"stats,omitempty"`
}

// DedupRequest is the body of POST /dedup.
type DedupRequest struct {
	Criteria []string `json:"criteria" validate:"required,min=1"`
	DryRun   bool     `json:"dry_run"`
	Source   string   `json:"source,omitempty"`
}

func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// start decodes a sync request and starts the run, writing the error
// response itself when it cannot.
func (s *Server) start(w http.ResponseWriter, r *http.Request) (*orchestrator.Handle, SyncRequest, bool) {
	var req SyncRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return nil, req, false
	}

	h, err := s.orch.Start(r.Context(), orchestrator.Request{
		SyncType: model.SyncType(req.SyncType),
		Source:   req.Source,
	})
	if err != nil {
		var active *model.ActiveRunError
		switch {
		case errors.As(err, &active):
			s.jsonResponse(w, http.StatusConflict, RunResponse{
				RunID:   active.RunID,
				Status:  "skipped",
				Message: err.Error(),
			})
		case errors.Is(err, model.ErrUnknownSource):
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("starting run", "sync_type", req.SyncType, "source", req.Source, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
		}
		return nil, req, false
	}
	return h, req, true
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	h, req, ok := s.start(w, r)
	if !ok {
		return
	}
	if !req.Wait {
		s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: h.Run.ID, Status: string(h.Run.Status), Stats: &h.Run.Stats})
		return
	}

	run, err := h.Wait(r.Context())
	if err != nil {
		// Client went away; the run carries on.
		return
	}
	resp := RunResponse{RunID: run.ID, Status: string(run.Status), Stats: &run.Stats}
	if run.Status == model.RunFailed && len(run.Logs) > 0 {
		resp.Message = run.Logs[len(run.Logs)-1].Message
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.store.ListRecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, model.ErrRunNotFound) {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("loading run", "run_id", r.PathValue("id"), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	ids, err := s.orch.Sweep(r.Context())
	if err != nil {
		s.logger.Error("sweeping runs", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.jsonResponse(w, http.StatusOK, map[string][]string{"swept": ids})
}

func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	var req DedupRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	criteria, err := dedup.ParseCriteria(req.Criteria)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.deduper.Run(r.Context(), dedup.Options{
		Criteria: criteria,
		DryRun:   req.DryRun,
		Source:   req.Source,
	})
	if err != nil {
		s.logger.Error("dedup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report.Groups == nil {
		report.Groups = []dedup.Group{}
	}
	s.jsonResponse(w, http.StatusOK, report)
}
