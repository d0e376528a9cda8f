package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/catalog"
)

const msgUnsupportedMediaType = "Content-Type must be application/json"

// hasJSONContentType checks if Content-Type starts with "application/json", allowing
// parameters such as charset.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// decodeBody decodes an optional JSON request body into dst. An empty body leaves dst
// unchanged. Unknown fields are rejected.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) *ProblemDetail {
	if r.ContentLength == 0 {
		return nil
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType(msgUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	return decodeProblem(err, s.config.MaxRequestSize)
}

func decodeProblem(err error, limit int64) *ProblemDetail {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", limit))
	}

	if errors.Is(err, io.EOF) {
		return BadRequest("Request body cannot be empty")
	}

	return BadRequest("Invalid JSON: " + err.Error())
}

// parsePage reads limit and offset query parameters. Missing values default to zero, which the
// store treats as the default page.
func parsePage(r *http.Request) (catalog.Page, error) {
	var page catalog.Page

	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}

		value, err := strconv.Atoi(raw)
		if err != nil {
			return catalog.Page{}, fmt.Errorf("%w: %s must be an integer", catalog.ErrValidation, name)
		}

		*dst = value
	}

	return catalog.ValidatePage(page)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: run id must be a UUID", catalog.ErrValidation)
	}

	return id, nil
}

// parseAt reads the optional "at" query parameter, defaulting to now.
func parseAt(r *http.Request, now time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return now.UTC(), nil
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: at must be an RFC 3339 timestamp", catalog.ErrValidation)
	}

	return at.UTC(), nil
}

// writeJSON marshals body before writing headers so an encoding failure can still become a 500.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}
