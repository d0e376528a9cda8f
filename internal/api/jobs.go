package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/catalog"
)

// runActions maps POST /api/v1/runs/{id}/{action} onto target states.
var runActions = map[string]catalog.RunState{
	"start":    catalog.RunStateRunning,
	"complete": catalog.RunStateCompleted,
	"fail":     catalog.RunStateFailed,
	"abort":    catalog.RunStateAborted,
}

func (s *Server) handlePutJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	job, err := s.deps.Store.UpsertJob(r.Context(), r.PathValue("namespace"), r.PathValue("job"), req.meta())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.GetJob(r.Context(), r.PathValue("namespace"), r.PathValue("job"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	jobs, err := s.deps.Store.ListJobs(r.Context(), r.PathValue("namespace"), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := JobList{Jobs: make([]JobResponse, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = newJobResponse(&jobs[i])
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleCreateRun creates a NEW run of the job's current version.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	run, err := s.deps.Runs.CreateRun(r.Context(), r.PathValue("namespace"), r.PathValue("job"), req.meta())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+run.ID.String())
	s.writeJSON(w, r, http.StatusCreated, newRunResponse(run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), r.PathValue("namespace"), r.PathValue("job"), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := RunList{Runs: make([]RunResponse, len(runs))}
	for i := range runs {
		resp.Runs[i] = newRunResponse(&runs[i])
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	run, err := s.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newRunResponse(run))
}

func (s *Server) handleListRunStates(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	states, err := s.deps.Store.ListRunStates(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := RunStateList{States: make([]RunStateResponse, len(states))}
	for i, st := range states {
		resp.States[i] = RunStateResponse{State: string(st.State), TransitionedAt: st.TransitionedAt}
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleRunTransition records a state transition at the "at" query time, or now.
func (s *Server) handleRunTransition(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")

	state, ok := runActions[action]
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: unknown run action %q", catalog.ErrNotFound, action))

		return
	}

	runID, err := parseRunID(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	at, err := parseAt(r, time.Now())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	run, err := s.deps.Runs.MarkRunAs(r.Context(), runID, state, at)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.logger.Debug("Run transitioned",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("run_id", runID.String()),
		slog.String("state", string(run.State)),
	)

	s.writeJSON(w, r, http.StatusOK, newRunResponse(run))
}
