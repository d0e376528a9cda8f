package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lineage-io/catalog/internal/catalog"
)

// Sentinel errors for validation failures. All of them are reported wrapped in
// catalog.ErrValidation.
var (
	ErrNilEvent         = errors.New("event cannot be nil")
	ErrMissingEventTime = errors.New("eventTime is required")
	ErrInvalidSchemaURL = errors.New("schemaURL must be an OpenLineage spec URL")
	ErrInvalidFacets    = errors.New("facets must be a JSON object")
)

// openLineageSchemaURLPattern matches https://openlineage.io/spec/X-Y-Z/OpenLineage.json.
var openLineageSchemaURLPattern = regexp.MustCompile(`^https://openlineage\.io/spec/\d+-\d+-\d+/OpenLineage\.json$`)

// ValidateRunEvent checks that an event can be applied to the catalog.
//
// Required: eventType, eventTime, run.runId (a UUID), job.namespace, job.name, and namespace
// and name on every dataset. producer and schemaURL are optional, but a schemaURL that is
// present must point at an OpenLineage spec version. Facets, when present, must be objects.
func ValidateRunEvent(event *RunEvent) error {
	if event == nil {
		return fmt.Errorf("%w: %w", catalog.ErrValidation, ErrNilEvent)
	}

	if err := catalog.ValidateStruct(event); err != nil {
		return err
	}

	if event.EventTime.IsZero() {
		return fmt.Errorf("%w: %w", catalog.ErrValidation, ErrMissingEventTime)
	}

	if event.SchemaURL != "" && !IsValidOpenLineageSchemaURL(event.SchemaURL) {
		return fmt.Errorf("%w: %w, got: %s", catalog.ErrValidation, ErrInvalidSchemaURL, event.SchemaURL)
	}

	if err := validateFacets("run.facets", event.Run.Facets); err != nil {
		return err
	}

	if err := validateFacets("job.facets", event.Job.Facets); err != nil {
		return err
	}

	for i, dataset := range event.Inputs {
		if err := validateFacets(fmt.Sprintf("inputs[%d].facets", i), dataset.Facets); err != nil {
			return err
		}
	}

	for i, dataset := range event.Outputs {
		if err := validateFacets(fmt.Sprintf("outputs[%d].facets", i), dataset.Facets); err != nil {
			return err
		}
	}

	return nil
}

func validateFacets(path string, facets json.RawMessage) error {
	if len(facets) == 0 {
		return nil
	}

	parsed := gjson.ParseBytes(facets)
	if parsed.Type == gjson.Null || parsed.IsObject() {
		return nil
	}

	return fmt.Errorf("%w: %s: %w", catalog.ErrValidation, path, ErrInvalidFacets)
}

// ExtractOpenLineageVersion extracts the version from an OpenLineage schemaURL, or returns
// "" when the URL is not an OpenLineage spec URL.
//
// Example:
//
//	ExtractOpenLineageVersion("https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent")
//	// Returns: "2.0.2"
func ExtractOpenLineageVersion(schemaURL string) string {
	if !IsValidOpenLineageSchemaURL(schemaURL) {
		return ""
	}

	baseURL, _, _ := strings.Cut(schemaURL, "#")

	remainder := strings.TrimPrefix(baseURL, "https://openlineage.io/spec/")
	versionWithHyphens := strings.TrimSuffix(remainder, "/OpenLineage.json")

	return strings.ReplaceAll(versionWithHyphens, "-", ".")
}

// IsValidOpenLineageSchemaURL reports whether url is an OpenLineage spec URL. JSON Schema
// fragments such as #/$defs/RunEvent, produced by the official Python client, are ignored.
func IsValidOpenLineageSchemaURL(url string) bool {
	baseURL, _, _ := strings.Cut(url, "#")

	return openLineageSchemaURLPattern.MatchString(baseURL)
}
