package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/catalog"
)

func (s *Server) handlePutDataset(w http.ResponseWriter, r *http.Request) {
	var req DatasetRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	name := r.PathValue("dataset")

	ds, err := s.deps.Store.UpsertDataset(r.Context(), r.PathValue("namespace"), name, req.meta(name))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newDatasetResponse(ds))
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.deps.Store.GetDataset(r.Context(), r.PathValue("namespace"), r.PathValue("dataset"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newDatasetResponse(ds))
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	datasets, err := s.deps.Store.ListDatasets(r.Context(), r.PathValue("namespace"), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := DatasetList{Datasets: make([]DatasetResponse, len(datasets))}
	for i := range datasets {
		resp.Datasets[i] = newDatasetResponse(&datasets[i])
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleGetDatasetVersion returns a version only through the dataset it belongs to.
func (s *Server) handleGetDatasetVersion(w http.ResponseWriter, r *http.Request) {
	versionKey, err := uuid.Parse(r.PathValue("version"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: version must be a UUID", catalog.ErrValidation))

		return
	}

	ds, err := s.deps.Store.GetDataset(r.Context(), r.PathValue("namespace"), r.PathValue("dataset"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	version, err := s.deps.Store.GetDatasetVersion(r.Context(), versionKey)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if version.DatasetID != ds.ID {
		s.writeError(w, r, fmt.Errorf("%w: version %s of dataset %s/%s",
			catalog.ErrNotFound, versionKey, ds.Namespace, ds.Name))

		return
	}

	s.writeJSON(w, r, http.StatusOK, newDatasetVersionResponse(ds, version))
}

func (s *Server) handleTagDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.deps.Store.TagDataset(r.Context(),
		r.PathValue("namespace"), r.PathValue("dataset"), r.PathValue("tag"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newDatasetResponse(ds))
}

func (s *Server) handleTagDatasetField(w http.ResponseWriter, r *http.Request) {
	ds, err := s.deps.Store.TagDatasetField(r.Context(),
		r.PathValue("namespace"), r.PathValue("dataset"), r.PathValue("field"), r.PathValue("tag"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newDatasetResponse(ds))
}
