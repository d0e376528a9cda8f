package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/ingestion"
)

type (
	// LineageEvent is one OpenLineage run event as accepted on the wire. It is mapped onto
	// ingestion.RunEvent so the API contract stays decoupled from the ingestion model.
	LineageEvent struct {
		EventTime time.Time      `json:"eventTime"`
		EventType string         `json:"eventType"`
		Producer  string         `json:"producer"`
		SchemaURL string         `json:"schemaURL"` //nolint:tagliatelle // OpenLineage field name
		Run       LineageRun     `json:"run"`
		Job       LineageJob     `json:"job"`
		Inputs    []LineageInOut `json:"inputs,omitempty"`
		Outputs   []LineageInOut `json:"outputs,omitempty"`
	}

	// LineageRun is the run section of a LineageEvent.
	LineageRun struct {
		ID     string          `json:"runId"`
		Facets json.RawMessage `json:"facets,omitempty"`
	}

	// LineageJob is the job section of a LineageEvent.
	LineageJob struct {
		Namespace string          `json:"namespace"`
		Name      string          `json:"name"`
		Facets    json.RawMessage `json:"facets,omitempty"`
	}

	// LineageInOut is an input or output dataset of a LineageEvent.
	LineageInOut struct {
		Namespace    string          `json:"namespace"`
		Name         string          `json:"name"`
		Facets       json.RawMessage `json:"facets,omitempty"`
		InputFacets  json.RawMessage `json:"inputFacets,omitempty"`
		OutputFacets json.RawMessage `json:"outputFacets,omitempty"`
	}

	// LineageAccepted is the 202 response body: the events were validated and queued.
	LineageAccepted struct {
		Status        string `json:"status"`
		Received      int    `json:"received"`
		CorrelationID string `json:"correlationId"`
		Timestamp     string `json:"timestamp"`
	}
)

// handleLineage accepts one OpenLineage event or a JSON array of events.
// POST /api/v1/lineage
//
// Events are validated synchronously and applied asynchronously:
//   - 202 Accepted: every event passed validation and was queued
//   - 400 Bad Request: empty body, invalid JSON, empty array, or an invalid event (nothing is queued)
//   - 413 Payload Too Large: body exceeds MaxRequestSize
//   - 415 Unsupported Media Type: Content-Type is not application/json
//   - 503 Service Unavailable: the queue has no room for the whole request, or is shutting down
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType(msgUnsupportedMediaType))

		return
	}

	events, problem := s.parseLineageRequest(w, r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var err error
	if len(events) == 1 {
		err = s.deps.Lineage.Submit(events[0])
	} else {
		_, err = s.deps.Lineage.SubmitBatch(events)
	}

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, LineageAccepted{
		Status:        "accepted",
		Received:      len(events),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	s.logger.Info("Lineage events accepted",
		slog.String("correlation_id", correlationID),
		slog.Int("received", len(events)),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// parseLineageRequest decodes a single event object or an array of events.
func (s *Server) parseLineageRequest(w http.ResponseWriter, r *http.Request) ([]*ingestion.RunEvent, *ProblemDetail) {
	// Fail fast on a declared oversized body; chunked bodies are bounded by MaxBytesReader.
	if r.ContentLength > s.config.MaxRequestSize {
		return nil, decodeProblem(&http.MaxBytesError{Limit: s.config.MaxRequestSize}, s.config.MaxRequestSize)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		return nil, decodeProblem(err, s.config.MaxRequestSize)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var requests []LineageEvent

	if body[0] == '[' {
		if err := json.Unmarshal(body, &requests); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}

		if len(requests) == 0 {
			return nil, BadRequest("Event array cannot be empty")
		}
	} else {
		var single LineageEvent
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}

		requests = []LineageEvent{single}
	}

	events := make([]*ingestion.RunEvent, len(requests))
	for i := range requests {
		events[i] = mapLineageEvent(&requests[i])
	}

	return events, nil
}

// mapLineageEvent maps the wire event onto the ingestion model, trimming identifiers.
// Validation is left to the ingestion package.
func mapLineageEvent(req *LineageEvent) *ingestion.RunEvent {
	return &ingestion.RunEvent{
		EventTime: req.EventTime,
		EventType: ingestion.EventType(strings.ToUpper(strings.TrimSpace(req.EventType))),
		Producer:  strings.TrimSpace(req.Producer),
		SchemaURL: strings.TrimSpace(req.SchemaURL),
		Run: ingestion.Run{
			ID:     strings.TrimSpace(req.Run.ID),
			Facets: req.Run.Facets,
		},
		Job: ingestion.Job{
			Namespace: strings.TrimSpace(req.Job.Namespace),
			Name:      strings.TrimSpace(req.Job.Name),
			Facets:    req.Job.Facets,
		},
		Inputs:  mapLineageDatasets(req.Inputs),
		Outputs: mapLineageDatasets(req.Outputs),
	}
}

func mapLineageDatasets(requests []LineageInOut) []ingestion.Dataset {
	datasets := make([]ingestion.Dataset, len(requests))

	for i, req := range requests {
		datasets[i] = ingestion.Dataset{
			Namespace:    strings.TrimSpace(req.Namespace),
			Name:         strings.TrimSpace(req.Name),
			Facets:       req.Facets,
			InputFacets:  req.InputFacets,
			OutputFacets: req.OutputFacets,
		}
	}

	return datasets
}
