package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/ingestion"
)

const contentTypeProblemJSON = "application/problem+json"

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewProblemDetail creates a problem for status. The title is the standard status text.
func NewProblemDetail(status int, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://lineage.io/problems/%d", status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// BadRequest creates a 400 problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, detail)
}

// NotFound creates a 404 problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, detail)
}

// Conflict creates a 409 problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusConflict, detail)
}

// PayloadTooLarge creates a 413 problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusRequestEntityTooLarge, detail)
}

// UnsupportedMediaType creates a 415 problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnsupportedMediaType, detail)
}

// InternalServerError creates a 500 problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, detail)
}

// ServiceUnavailable creates a 503 problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, detail)
}

// problemFor classifies a catalog or ingestion error. Persistence and unexpected errors are
// reported without their message.
func problemFor(err error) *ProblemDetail {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, catalog.ErrConflict):
		return Conflict(err.Error())
	case errors.Is(err, catalog.ErrValidation):
		return BadRequest(err.Error())
	case errors.Is(err, ingestion.ErrQueueFull), errors.Is(err, ingestion.ErrSubmitterClosed):
		return ServiceUnavailable(err.Error())
	default:
		return InternalServerError("The catalog could not process the request")
	}
}

// WriteErrorResponse writes problem, filling in the request path and correlation id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)
	}
}

// writeError logs err and writes the problem it maps to. Server-side failures are logged at
// Error, client errors at Debug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := problemFor(err)

	level := slog.LevelDebug
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.LogAttrs(r.Context(), level, "Request failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, problem)
}
