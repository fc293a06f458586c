// Package api exposes the HTTP surface: project CRUD, table rows, buckets,
// retrieval queries, and the generation endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/project"
)

type Server struct {
	router    chi.Router
	registry  *project.Registry
	buckets   *bucket.Store
	generator *pipeline.Generator
	provider  llm.Provider
}

func NewServer(registry *project.Registry, buckets *bucket.Store, generator *pipeline.Generator, provider llm.Provider) (*Server, error) {
	logger := common.Logger()
	if registry == nil {
		return nil, fmt.Errorf("project registry required")
	}
	if buckets == nil {
		return nil, fmt.Errorf("bucket store required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generation pipeline required")
	}
	providerName := "unknown"
	if provider != nil {
		providerName = provider.Name()
	}
	srv := &Server{
		router:    chi.NewRouter(),
		registry:  registry,
		buckets:   buckets,
		generator: generator,
		provider:  provider,
	}
	srv.routes()
	logger.Info("api: server ready", "provider", providerName, "projects_root", registry.Root())
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Get("/v1/logs", s.handleLogs)
	s.router.Get("/v1/tone-presets", s.handleTonePresets)

	s.router.Post("/v1/projects", s.handleCreateProject)
	s.router.Get("/v1/projects", s.handleListProjects)
	s.router.Get("/v1/projects/{projectID}", s.handleGetProject)
	s.router.Delete("/v1/projects/{projectID}", s.handleDeleteProject)

	s.router.Post("/v1/projects/{projectID}/tables", s.handleCreateTable)
	s.router.Get("/v1/projects/{projectID}/tables", s.handleListTables)
	s.router.Get("/v1/projects/{projectID}/tables/{table}", s.handleGetTable)
	s.router.Post("/v1/projects/{projectID}/tables/{table}/rows", s.handleInsertRow)
	s.router.Put("/v1/projects/{projectID}/tables/{table}/rows/{rowID}", s.handleUpdateRow)
	s.router.Delete("/v1/projects/{projectID}/tables/{table}/rows/{rowID}", s.handleDeleteRow)

	s.router.Post("/v1/projects/{projectID}/buckets", s.handleCreateBucket)
	s.router.Get("/v1/projects/{projectID}/buckets", s.handleListBuckets)
	s.router.Post("/v1/projects/{projectID}/buckets/{bucket}/toggle", s.handleToggleBucket)
	s.router.Post("/v1/projects/{projectID}/buckets/{bucket}/upload", s.handleUploadDocument)
	s.router.Delete("/v1/projects/{projectID}/buckets/{bucket}", s.handleDeleteBucket)
	s.router.Post("/v1/projects/{projectID}/buckets/query", s.handleQueryBuckets)

	s.router.Post("/v1/projects/{projectID}/brainstorm", s.handleBrainstorm)
	s.router.Get("/v1/projects/{projectID}/brainstorm/history", s.handleBrainstormHistory)
	s.router.Post("/v1/projects/{projectID}/write", s.handleWrite)
	s.router.Post("/v1/projects/{projectID}/write/{version}/edit", s.handleEditWrite)
	s.router.Get("/v1/projects/{projectID}/write/history", s.handleWriteHistory)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func (s *Server) handleTonePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tones": pipeline.ToneKeys()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeFault maps the error taxonomy onto HTTP status codes so every handler
// reports failures the same way.
func writeFault(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindAlreadyExists, fault.KindVersionConflict:
		return http.StatusConflict
	case fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindGeneration:
		return http.StatusBadGateway
	case fault.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
