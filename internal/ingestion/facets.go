package ingestion

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lineage-io/catalog/internal/canonicalization"
	"github.com/lineage-io/catalog/internal/catalog"
)

// Facet paths read from OpenLineage events.
// Spec: https://openlineage.io/docs/spec/facets/
const (
	facetLocation         = "sourceCodeLocation.url"
	facetDocumentation    = "documentation.description"
	facetProcessingType   = "jobType.processingType"
	facetSQL              = "sql.query"
	facetSchemaFields     = "schema.fields"
	facetDataSourceName   = "dataSource.name"
	facetDataSourceURI    = "dataSource.uri"
	facetDatasetVersion   = "version.datasetVersion"
	facetDatasetType      = "datasetType.datasetType"
	facetNominalStartTime = "nominalTime.nominalStartTime"
	facetNominalEndTime   = "nominalTime.nominalEndTime"
	facetArgs             = "args"

	contextKeySQL    = "sql"
	unknownFieldType = "UNKNOWN"
)

func facetString(facets json.RawMessage, path string) string {
	if len(facets) == 0 {
		return ""
	}

	return strings.TrimSpace(gjson.GetBytes(facets, path).String())
}

func facetTime(facets json.RawMessage, path string) *time.Time {
	raw := facetString(facets, path)
	if raw == "" {
		return nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}

	parsed = parsed.UTC()

	return &parsed
}

// jobMeta builds the job upsert input from the job facets and the resolved datasets.
func jobMeta(job Job, inputs, outputs []catalog.DatasetID) catalog.JobMeta {
	meta := catalog.JobMeta{
		Type:        catalog.JobTypeBatch,
		Location:    facetString(job.Facets, facetLocation),
		Description: facetString(job.Facets, facetDocumentation),
		Inputs:      inputs,
		Outputs:     outputs,
	}

	if strings.EqualFold(facetString(job.Facets, facetProcessingType), "STREAMING") {
		meta.Type = catalog.JobTypeStream
	}

	if query := facetString(job.Facets, facetSQL); query != "" {
		meta.Context = map[string]string{contextKeySQL: query}
	}

	return meta
}

// runMeta builds run creation input from the run facets.
func runMeta(run Run, runID uuid.UUID) catalog.RunMeta {
	meta := catalog.RunMeta{ID: &runID}
	meta.NominalStartTime = facetTime(run.Facets, facetNominalStartTime)
	meta.NominalEndTime = facetTime(run.Facets, facetNominalEndTime)

	if len(run.Facets) == 0 {
		return meta
	}

	args := gjson.GetBytes(run.Facets, facetArgs)
	if !args.IsObject() {
		return meta
	}

	args.ForEach(func(key, value gjson.Result) bool {
		// _producer and _schemaURL describe the facet itself.
		if strings.HasPrefix(key.String(), "_") {
			return true
		}

		if meta.Args == nil {
			meta.Args = map[string]string{}
		}

		meta.Args[key.String()] = value.String()

		return true
	})

	return meta
}

// datasetSource returns the source a dataset belongs to. The dataSource facet wins; otherwise
// the source is derived from the dataset namespace.
func datasetSource(dataset Dataset) (string, catalog.SourceMeta) {
	name, sourceType, connectionURL := canonicalization.SourceForNamespace(dataset.Namespace)

	if uri := facetString(dataset.Facets, facetDataSourceURI); uri != "" {
		connectionURL = uri
		name, sourceType, _ = canonicalization.SourceForNamespace(uri)
	}

	if facetName := facetString(dataset.Facets, facetDataSourceName); facetName != "" {
		name = facetName
	}

	return name, catalog.SourceMeta{Type: sourceType, ConnectionURL: connectionURL}
}

// hasVersionFacets reports whether the dataset carries facets that define a new version.
func hasVersionFacets(dataset Dataset) bool {
	if len(dataset.Facets) == 0 {
		return false
	}

	return gjson.GetBytes(dataset.Facets, facetSchemaFields).Exists() ||
		gjson.GetBytes(dataset.Facets, facetDatasetVersion).Exists()
}

// datasetMeta builds the dataset upsert input from the dataset facets.
func datasetMeta(dataset Dataset, sourceName string) catalog.DatasetMeta {
	meta := catalog.DatasetMeta{
		Type:         catalog.DatasetTypeTable,
		PhysicalName: dataset.Name,
		SourceName:   sourceName,
		Description:  facetString(dataset.Facets, facetDocumentation),
	}

	switch strings.ToUpper(facetString(dataset.Facets, facetDatasetType)) {
	case "STREAM", "TOPIC":
		meta.Type = catalog.DatasetTypeStream
	}

	if version := facetString(dataset.Facets, facetDatasetVersion); version != "" {
		key := canonicalization.VersionKeyForExternalVersion(dataset.Namespace, dataset.Name, version)
		meta.Version = &key
	}

	if len(dataset.Facets) == 0 {
		return meta
	}

	gjson.GetBytes(dataset.Facets, facetSchemaFields).ForEach(func(_, field gjson.Result) bool {
		name := strings.TrimSpace(field.Get("name").String())
		if name == "" {
			return true
		}

		fieldType := strings.TrimSpace(field.Get("type").String())
		if fieldType == "" {
			fieldType = unknownFieldType
		}

		meta.Fields = append(meta.Fields, catalog.FieldMeta{
			Name:        name,
			Type:        fieldType,
			Description: field.Get("description").String(),
		})

		return true
	})

	return meta
}
