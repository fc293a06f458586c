package api

import (
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
)

const defaultRowLimit = 100

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := store.CreateTable(ctx, req.Name, req.Columns); err != nil {
		writeFault(w, err)
		return
	}
	schema, err := store.TableSchema(ctx, req.Name)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, schema)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	tables, err := store.UserTables(ctx)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	table := chi.URLParam(r, "table")
	schema, err := store.TableSchema(ctx, table)
	if err != nil {
		writeFault(w, err)
		return
	}
	limit := defaultRowLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	rows, err := store.ListRows(ctx, table, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schema": schema, "rows": rows})
}

func (s *Server) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req rowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	id, err := store.InsertRow(ctx, chi.URLParam(r, "table"), req.Values)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rowID, err := parseRowID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req rowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	table := chi.URLParam(r, "table")
	if err := store.UpdateRow(ctx, table, rowID, req.Values); err != nil {
		writeFault(w, err)
		return
	}
	row, err := store.GetRow(ctx, table, rowID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rowID, err := parseRowID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store, err := s.registry.Store(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := store.DeleteRow(ctx, chi.URLParam(r, "table"), rowID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": rowID})
}

func parseRowID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "rowID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid row id %q", raw)
	}
	return id, nil
}
