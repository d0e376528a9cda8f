package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/catalog"
)

// Request bodies. These are separate from the catalog meta types so the wire contract can
// evolve independently of the domain.
type (
	// NamespaceRequest is the body of PUT /api/v1/namespaces/{namespace}.
	NamespaceRequest struct {
		OwnerName   string `json:"ownerName"`
		Description string `json:"description"`
	}

	// SourceRequest is the body of PUT /api/v1/sources/{source}.
	SourceRequest struct {
		Type          string `json:"type"`
		ConnectionURL string `json:"connectionUrl"`
		Description   string `json:"description"`
	}

	// TagRequest is the body of PUT /api/v1/tags/{tag}.
	TagRequest struct {
		Description string `json:"description"`
	}

	// FieldRequest is one field of a DatasetRequest.
	FieldRequest struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}

	// DatasetRequest is the body of PUT /api/v1/namespaces/{namespace}/datasets/{dataset}.
	DatasetRequest struct {
		Type         string         `json:"type"`
		PhysicalName string         `json:"physicalName"`
		SourceName   string         `json:"sourceName"`
		Fields       []FieldRequest `json:"fields"`
		Tags         []string       `json:"tags"`
		Description  string         `json:"description"`
		Version      *uuid.UUID     `json:"version,omitempty"`
		RunID        *uuid.UUID     `json:"runId,omitempty"`
	}

	// DatasetIDBody names a dataset in request and response bodies.
	DatasetIDBody struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}

	// JobRequest is the body of PUT /api/v1/namespaces/{namespace}/jobs/{job}.
	JobRequest struct {
		Type        string            `json:"type"`
		Location    string            `json:"location"`
		Context     map[string]string `json:"context"`
		Inputs      []DatasetIDBody   `json:"inputs"`
		Outputs     []DatasetIDBody   `json:"outputs"`
		Description string            `json:"description"`
		RunID       *uuid.UUID        `json:"runId,omitempty"`
	}

	// RunRequest is the body of POST /api/v1/namespaces/{namespace}/jobs/{job}/runs.
	RunRequest struct {
		ID               *uuid.UUID        `json:"id,omitempty"`
		Args             map[string]string `json:"args"`
		NominalStartTime *time.Time        `json:"nominalStartTime,omitempty"`
		NominalEndTime   *time.Time        `json:"nominalEndTime,omitempty"`
	}
)

// Response bodies.
type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// NamespaceResponse is a namespace resource.
	NamespaceResponse struct {
		Name        string    `json:"name"`
		OwnerName   string    `json:"ownerName"`
		Description string    `json:"description,omitempty"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	// SourceResponse is a source resource.
	SourceResponse struct {
		Name          string    `json:"name"`
		Type          string    `json:"type"`
		ConnectionURL string    `json:"connectionUrl"`
		Description   string    `json:"description,omitempty"`
		CreatedAt     time.Time `json:"createdAt"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}

	// TagResponse is a tag resource.
	TagResponse struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	// FieldResponse is a dataset field.
	FieldResponse struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags"`
	}

	// DatasetResponse is a dataset resource with its current field set.
	DatasetResponse struct {
		ID             DatasetIDBody   `json:"id"`
		Type           string          `json:"type"`
		PhysicalName   string          `json:"physicalName"`
		SourceName     string          `json:"sourceName"`
		Description    string          `json:"description,omitempty"`
		CreatedAt      time.Time       `json:"createdAt"`
		UpdatedAt      time.Time       `json:"updatedAt"`
		LastModifiedAt *time.Time      `json:"lastModifiedAt"`
		Tags           []string        `json:"tags"`
		Fields         []FieldResponse `json:"fields"`
		CurrentVersion *uuid.UUID      `json:"currentVersion"`
	}

	// DatasetVersionResponse is one immutable dataset version.
	DatasetVersionResponse struct {
		ID        DatasetIDBody   `json:"id"`
		Version   uuid.UUID       `json:"version"`
		CreatedAt time.Time       `json:"createdAt"`
		Fields    []FieldResponse `json:"fields"`
		RunID     *uuid.UUID      `json:"runId"`
	}

	// JobResponse is a job resource described by its current version.
	JobResponse struct {
		ID             DatasetIDBody     `json:"id"`
		Type           string            `json:"type"`
		Description    string            `json:"description,omitempty"`
		CreatedAt      time.Time         `json:"createdAt"`
		UpdatedAt      time.Time         `json:"updatedAt"`
		Location       string            `json:"location,omitempty"`
		Context        map[string]string `json:"context"`
		Inputs         []DatasetIDBody   `json:"inputs"`
		Outputs        []DatasetIDBody   `json:"outputs"`
		CurrentVersion *uuid.UUID        `json:"currentVersion"`
		LatestRunID    *uuid.UUID        `json:"latestRunId"`
	}

	// VersionRefBody identifies a job or dataset version.
	VersionRefBody struct {
		Namespace string    `json:"namespace"`
		Name      string    `json:"name"`
		Version   uuid.UUID `json:"version"`
	}

	// RunResponse is a run resource.
	RunResponse struct {
		ID               uuid.UUID         `json:"id"`
		CreatedAt        time.Time         `json:"createdAt"`
		UpdatedAt        time.Time         `json:"updatedAt"`
		NominalStartTime *time.Time        `json:"nominalStartTime"`
		NominalEndTime   *time.Time        `json:"nominalEndTime"`
		State            string            `json:"state"`
		StartedAt        *time.Time        `json:"startedAt"`
		EndedAt          *time.Time        `json:"endedAt"`
		Args             map[string]string `json:"args"`
		JobVersion       VersionRefBody    `json:"jobVersion"`
		InputVersions    []VersionRefBody  `json:"inputVersions"`
		OutputVersions   []VersionRefBody  `json:"outputVersions"`
	}

	// RunStateResponse is one entry of a run's state log.
	RunStateResponse struct {
		State          string    `json:"state"`
		TransitionedAt time.Time `json:"transitionedAt"`
	}

	// NamespaceList wraps a page of namespaces.
	NamespaceList struct {
		Namespaces []NamespaceResponse `json:"namespaces"`
	}

	// SourceList wraps a page of sources.
	SourceList struct {
		Sources []SourceResponse `json:"sources"`
	}

	// TagList wraps a page of tags.
	TagList struct {
		Tags []TagResponse `json:"tags"`
	}

	// DatasetList wraps a page of datasets.
	DatasetList struct {
		Datasets []DatasetResponse `json:"datasets"`
	}

	// JobList wraps a page of jobs.
	JobList struct {
		Jobs []JobResponse `json:"jobs"`
	}

	// RunList wraps a page of runs.
	RunList struct {
		Runs []RunResponse `json:"runs"`
	}

	// RunStateList wraps a run's state log, oldest first.
	RunStateList struct {
		States []RunStateResponse `json:"states"`
	}
)

func (r NamespaceRequest) meta() catalog.NamespaceMeta {
	return catalog.NamespaceMeta{OwnerName: r.OwnerName, Description: r.Description}
}

func (r SourceRequest) meta() catalog.SourceMeta {
	return catalog.SourceMeta{Type: r.Type, ConnectionURL: r.ConnectionURL, Description: r.Description}
}

// meta maps the request onto a dataset upsert. The physical name defaults to the dataset name.
func (r DatasetRequest) meta(name string) catalog.DatasetMeta {
	physicalName := r.PhysicalName
	if physicalName == "" {
		physicalName = name
	}

	fields := make([]catalog.FieldMeta, len(r.Fields))
	for i, f := range r.Fields {
		fields[i] = catalog.FieldMeta{Name: f.Name, Type: f.Type, Description: f.Description, Tags: f.Tags}
	}

	return catalog.DatasetMeta{
		Type:         catalog.DatasetType(r.Type),
		PhysicalName: physicalName,
		SourceName:   r.SourceName,
		Fields:       fields,
		Tags:         r.Tags,
		Description:  r.Description,
		Version:      r.Version,
		RunID:        r.RunID,
	}
}

func (r JobRequest) meta() catalog.JobMeta {
	return catalog.JobMeta{
		Type:        catalog.JobType(r.Type),
		Location:    r.Location,
		Context:     r.Context,
		Inputs:      toDatasetIDs(r.Inputs),
		Outputs:     toDatasetIDs(r.Outputs),
		Description: r.Description,
		RunID:       r.RunID,
	}
}

func (r RunRequest) meta() catalog.RunMeta {
	return catalog.RunMeta{
		ID:               r.ID,
		Args:             r.Args,
		NominalStartTime: r.NominalStartTime,
		NominalEndTime:   r.NominalEndTime,
	}
}

func toDatasetIDs(bodies []DatasetIDBody) []catalog.DatasetID {
	ids := make([]catalog.DatasetID, len(bodies))
	for i, b := range bodies {
		ids[i] = catalog.DatasetID{Namespace: b.Namespace, Name: b.Name}
	}

	return ids
}

func fromDatasetIDs(ids []catalog.DatasetID) []DatasetIDBody {
	bodies := make([]DatasetIDBody, len(ids))
	for i, id := range ids {
		bodies[i] = DatasetIDBody{Namespace: id.Namespace, Name: id.Name}
	}

	return bodies
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

func newNamespaceResponse(ns *catalog.Namespace) NamespaceResponse {
	return NamespaceResponse{
		Name:        ns.Name,
		OwnerName:   ns.OwnerName,
		Description: ns.Description,
		CreatedAt:   ns.CreatedAt,
		UpdatedAt:   ns.UpdatedAt,
	}
}

func newSourceResponse(src *catalog.Source) SourceResponse {
	return SourceResponse{
		Name:          src.Name,
		Type:          src.Type,
		ConnectionURL: src.ConnectionURL,
		Description:   src.Description,
		CreatedAt:     src.CreatedAt,
		UpdatedAt:     src.UpdatedAt,
	}
}

func newFieldResponses(fields []catalog.DatasetField) []FieldResponse {
	out := make([]FieldResponse, len(fields))
	for i, f := range fields {
		out[i] = FieldResponse{Name: f.Name, Type: f.Type, Description: f.Description, Tags: nonNil(f.Tags)}
	}

	return out
}

func newDatasetResponse(ds *catalog.Dataset) DatasetResponse {
	resp := DatasetResponse{
		ID:             DatasetIDBody{Namespace: ds.Namespace, Name: ds.Name},
		Type:           string(ds.Type),
		PhysicalName:   ds.PhysicalName,
		SourceName:     ds.SourceName,
		Description:    ds.Description,
		CreatedAt:      ds.CreatedAt,
		UpdatedAt:      ds.UpdatedAt,
		LastModifiedAt: ds.LastModifiedAt,
		Tags:           nonNil(ds.Tags),
		Fields:         newFieldResponses(ds.Fields),
	}

	if ds.CurrentVersion != nil {
		version := ds.CurrentVersion.Version
		resp.CurrentVersion = &version
	}

	return resp
}

func newDatasetVersionResponse(ds *catalog.Dataset, v *catalog.DatasetVersion) DatasetVersionResponse {
	return DatasetVersionResponse{
		ID:        DatasetIDBody{Namespace: ds.Namespace, Name: ds.Name},
		Version:   v.Version,
		CreatedAt: v.CreatedAt,
		Fields:    newFieldResponses(v.Fields),
		RunID:     v.RunID,
	}
}

func newJobResponse(job *catalog.Job) JobResponse {
	resp := JobResponse{
		ID:          DatasetIDBody{Namespace: job.Namespace, Name: job.Name},
		Type:        string(job.Type),
		Description: job.Description,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		Context:     map[string]string{},
		Inputs:      []DatasetIDBody{},
		Outputs:     []DatasetIDBody{},
	}

	if v := job.CurrentVersion; v != nil {
		version := v.Version
		resp.CurrentVersion = &version
		resp.Location = v.Location
		resp.Inputs = fromDatasetIDs(v.Inputs)
		resp.Outputs = fromDatasetIDs(v.Outputs)
		resp.LatestRunID = v.LatestRunID

		if v.Context != nil {
			resp.Context = v.Context
		}
	}

	return resp
}

func newVersionRefs(refs []catalog.DatasetVersionRef) []VersionRefBody {
	out := make([]VersionRefBody, len(refs))
	for i, ref := range refs {
		out[i] = VersionRefBody{Namespace: ref.Namespace, Name: ref.Name, Version: ref.Version}
	}

	return out
}

func newRunResponse(run *catalog.Run) RunResponse {
	args := run.Args
	if args == nil {
		args = map[string]string{}
	}

	return RunResponse{
		ID:               run.ID,
		CreatedAt:        run.CreatedAt,
		UpdatedAt:        run.UpdatedAt,
		NominalStartTime: run.NominalStartTime,
		NominalEndTime:   run.NominalEndTime,
		State:            string(run.State),
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
		Args:             args,
		JobVersion: VersionRefBody{
			Namespace: run.JobVersion.Namespace,
			Name:      run.JobVersion.Name,
			Version:   run.JobVersion.Version,
		},
		InputVersions:  newVersionRefs(run.InputVersions),
		OutputVersions: newVersionRefs(run.OutputVersions),
	}
}
