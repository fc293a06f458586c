package api

import (
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createBucketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := s.buckets.Create(ctx, proj.ID, proj.BucketRoot, req.Name, req.Guidance, active)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	buckets, err := s.buckets.List(ctx, proj.ID, proj.BucketRoot)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"buckets": buckets})
}

func (s *Server) handleToggleBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req toggleBucketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	updated, err := s.buckets.SetActive(ctx, proj.ID, proj.BucketRoot, chi.URLParam(r, "bucket"), req.Active)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleUploadDocument accepts a text document. A degraded index is not an
// error: the raw document is durable and the response carries the status.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req uploadDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("document content required"))
		return
	}
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	result, err := s.buckets.Ingest(ctx, proj.ID, proj.BucketRoot, chi.URLParam(r, "bucket"), req.Filename, req.Content)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	name := chi.URLParam(r, "bucket")
	if err := s.buckets.Delete(ctx, proj.ID, proj.BucketRoot, name); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleQueryBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req queryBucketsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query text required"))
		return
	}
	mode, err := rag.ParseMode(req.Mode)
	if err != nil {
		writeFault(w, err)
		return
	}
	proj, err := s.registry.GetProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	names := req.Buckets
	if len(names) == 0 {
		// No explicit selection queries every active bucket.
		all, err := s.buckets.List(ctx, proj.ID, proj.BucketRoot)
		if err != nil {
			writeFault(w, err)
			return
		}
		for _, b := range all {
			if b.Active {
				names = append(names, b.Name)
			}
		}
	}
	results := s.buckets.QueryMany(ctx, proj.ID, proj.BucketRoot, names, req.Query, mode)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"combined": bucket.CombineResults(results),
	})
}
