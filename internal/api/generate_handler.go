package api

import (
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/project"
)

const defaultHistoryLimit = 20

func (s *Server) handleBrainstorm(w http.ResponseWriter, r *http.Request) {
	var req brainstormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	artifact, err := s.generator.Brainstorm(r.Context(), pipeline.BrainstormRequest{
		ProjectID:          chi.URLParam(r, "projectID"),
		SourceTable:        req.SourceTable,
		RowIDs:             req.RowIDs,
		Buckets:            req.Buckets,
		Tone:               req.Tone,
		SpecialInstruction: req.SpecialInstruction,
		Instructions:       req.Instructions,
		Mode:               req.Mode,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	artifact, err := s.generator.Write(r.Context(), pipeline.WriteRequest{
		ProjectID:         chi.URLParam(r, "projectID"),
		SourceTable:       req.SourceTable,
		RowIDs:            req.RowIDs,
		BrainstormVersion: req.BrainstormVersion,
		Tone:              req.Tone,
		Instructions:      req.Instructions,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleEditWrite(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid write version %q", chi.URLParam(r, "version")))
		return
	}
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	edit, err := s.generator.Edit(r.Context(), chi.URLParam(r, "projectID"), version, req.Instructions)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edit)
}

func (s *Server) handleBrainstormHistory(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, project.KindBrainstorm)
}

func (s *Server) handleWriteHistory(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, project.KindWrite)
}

// writeHistory returns the artifact ledger newest-first. For write artifacts
// each entry is paired with its edit log.
func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, kind project.OutputKind) {
	ctx := r.Context()
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	artifacts, err := store.OutputHistory(ctx, kind, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	if kind != project.KindWrite {
		writeJSON(w, http.StatusOK, map[string]interface{}{"history": artifacts})
		return
	}
	type writeEntry struct {
		project.Artifact
		Edits []project.Edit `json:"edits,omitempty"`
	}
	entries := make([]writeEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		edits, err := store.EditHistory(ctx, artifact.Version)
		if err != nil {
			writeFault(w, err)
			return
		}
		entries = append(entries, writeEntry{Artifact: artifact, Edits: edits})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
