package api

import (
	"net/http"

	"github.com/lineage-io/catalog/internal/catalog"
)

func (s *Server) handlePutNamespace(w http.ResponseWriter, r *http.Request) {
	var req NamespaceRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	ns, err := s.deps.Store.UpsertNamespace(r.Context(), r.PathValue("namespace"), req.meta())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newNamespaceResponse(ns))
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.deps.Store.GetNamespace(r.Context(), r.PathValue("namespace"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newNamespaceResponse(ns))
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	namespaces, err := s.deps.Store.ListNamespaces(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := NamespaceList{Namespaces: make([]NamespaceResponse, len(namespaces))}
	for i := range namespaces {
		resp.Namespaces[i] = newNamespaceResponse(&namespaces[i])
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	src, err := s.deps.Store.UpsertSource(r.Context(), r.PathValue("source"), req.meta())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newSourceResponse(src))
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.deps.Store.GetSource(r.Context(), r.PathValue("source"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, newSourceResponse(src))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	sources, err := s.deps.Store.ListSources(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := SourceList{Sources: make([]SourceResponse, len(sources))}
	for i := range sources {
		resp.Sources[i] = newSourceResponse(&sources[i])
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handlePutTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if problem := s.decodeBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	tag, err := s.deps.Store.UpsertTag(r.Context(), r.PathValue("tag"), catalog.TagMeta{Description: req.Description})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, TagResponse{Name: tag.Name, Description: tag.Description})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	tags, err := s.deps.Store.ListTags(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := TagList{Tags: make([]TagResponse, len(tags))}
	for i, tag := range tags {
		resp.Tags[i] = TagResponse{Name: tag.Name, Description: tag.Description}
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}
