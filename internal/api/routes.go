package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lineage-io/catalog/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	versionHeader      = "X-Catalog-Version"
)

// setupProbes registers the unauthenticated health endpoints.
func (s *Server) setupProbes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)     // liveness
	mux.HandleFunc("GET /ready", s.handleReady)   // readiness: database reachable
	mux.HandleFunc("GET /health", s.handleHealth) // status, uptime, version
}

// setupRoutes registers the catalog API.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/namespaces/{namespace}", s.handlePutNamespace)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}", s.handleGetNamespace)
	mux.HandleFunc("GET /api/v1/namespaces", s.handleListNamespaces)

	mux.HandleFunc("PUT /api/v1/sources/{source}", s.handlePutSource)
	mux.HandleFunc("GET /api/v1/sources/{source}", s.handleGetSource)
	mux.HandleFunc("GET /api/v1/sources", s.handleListSources)

	mux.HandleFunc("PUT /api/v1/tags/{tag}", s.handlePutTag)
	mux.HandleFunc("GET /api/v1/tags", s.handleListTags)

	mux.HandleFunc("PUT /api/v1/namespaces/{namespace}/datasets/{dataset}", s.handlePutDataset)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/datasets/{dataset}", s.handleGetDataset)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/datasets", s.handleListDatasets)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/datasets/{dataset}/versions/{version}",
		s.handleGetDatasetVersion)
	mux.HandleFunc("POST /api/v1/namespaces/{namespace}/datasets/{dataset}/tags/{tag}", s.handleTagDataset)
	mux.HandleFunc("POST /api/v1/namespaces/{namespace}/datasets/{dataset}/fields/{field}/tags/{tag}",
		s.handleTagDatasetField)

	mux.HandleFunc("PUT /api/v1/namespaces/{namespace}/jobs/{job}", s.handlePutJob)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/jobs/{job}", s.handleGetJob)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/jobs", s.handleListJobs)

	mux.HandleFunc("POST /api/v1/namespaces/{namespace}/jobs/{job}/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/jobs/{job}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/states", s.handleListRunStates)
	mux.HandleFunc("POST /api/v1/runs/{id}/{action}", s.handleRunTransition)

	mux.HandleFunc("POST /api/v1/lineage", s.handleLineage)

	mux.HandleFunc("/", s.handleNotFound)
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(versionHeader, s.version)
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady reports 503 while the database is unreachable, so the instance is taken out of
// rotation until it recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

// handleHealth returns service status, version and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set(versionHeader, s.version)
	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "catalog",
		Version:     s.version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
