// Package bucket manages named retrieval indices scoped to a project. Each
// bucket keeps its raw documents and index working directory on disk next to
// a JSON metadata sidecar, so buckets survive process restarts.
package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

const metadataFile = "bucket_metadata.json"

// Index lifecycle states recorded in the metadata sidecar.
const (
	IndexReady    = "ready"
	IndexDegraded = "degraded"
)

// Ingestion outcomes. saved_only means the raw document is durable but the
// index insert failed; the content is never lost.
const (
	StatusIngested  = "ingested"
	StatusSavedOnly = "saved_only"
	StatusError     = "error"
)

// Bucket is the metadata view of one retrieval index.
type Bucket struct {
	Name          string    `json:"name"`
	ProjectID     string    `json:"project_id"`
	Active        bool      `json:"active"`
	Guidance      string    `json:"guidance"`
	DocumentCount int       `json:"document_count"`
	IndexStatus   string    `json:"index_status"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

// IngestResult reports what happened to one uploaded document.
type IngestResult struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// Store owns every bucket's metadata and the process-wide index handle
// cache. The retrieval engine itself is an injected collaborator.
type Store struct {
	engine  rag.Engine
	handles *indexCache
}

func NewStore(engine rag.Engine) *Store {
	return &Store{engine: engine, handles: newIndexCache()}
}

func bucketDir(root, name string) string    { return filepath.Join(root, name) }
func indexDir(root, name string) string     { return filepath.Join(root, name, "index") }
func documentsDir(root, name string) string { return filepath.Join(root, name, "documents") }

func handleKey(projectID, name string) string { return projectID + "/" + name }

// Create provisions a new bucket under the project's bucket root. When the
// index cannot be created the bucket is still recorded, marked degraded so
// later operations retry lazy initialization instead of silently returning
// empty results.
func (s *Store) Create(ctx context.Context, projectID, root, name, guidance string, active bool) (Bucket, error) {
	if strings.TrimSpace(name) == "" {
		return Bucket{}, fault.InvalidInput("bucket name", name)
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return Bucket{}, fault.InvalidInput("bucket name", name)
	}
	dir := bucketDir(root, name)
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return Bucket{}, fault.AlreadyExists("bucket", name)
	}
	if err := os.MkdirAll(documentsDir(root, name), 0o755); err != nil {
		return Bucket{}, fmt.Errorf("create bucket directory: %w", err)
	}
	if err := os.MkdirAll(indexDir(root, name), 0o755); err != nil {
		return Bucket{}, fmt.Errorf("create index directory: %w", err)
	}

	logger := common.Logger()
	status := IndexReady
	index, err := s.engine.CreateIndex(ctx, indexDir(root, name))
	if err != nil {
		logger.Warn("bucket: index creation failed, recording degraded bucket", "bucket", name, "error", err)
		status = IndexDegraded
	} else {
		key := handleKey(projectID, name)
		if _, cacheErr := s.handles.getOrCreate(key, func() (rag.Index, error) { return index, nil }); cacheErr != nil {
			logger.Warn("bucket: caching index handle failed", "bucket", name, "error", cacheErr)
		}
	}

	now := time.Now().UTC()
	bucket := Bucket{
		Name:        name,
		ProjectID:   projectID,
		Active:      active,
		Guidance:    guidance,
		IndexStatus: status,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := writeMetadata(dir, bucket); err != nil {
		return Bucket{}, err
	}
	logger.Info("bucket: created", "project", projectID, "bucket", name, "index_status", status)
	return bucket, nil
}

// Get loads one bucket's metadata, recomputing its document count.
func (s *Store) Get(ctx context.Context, projectID, root, name string) (Bucket, error) {
	bucket, err := readMetadata(bucketDir(root, name))
	if err != nil {
		return Bucket{}, err
	}
	bucket.ProjectID = projectID
	bucket.DocumentCount = countDocuments(documentsDir(root, name))
	return bucket, nil
}

// List returns every bucket under root, name-ordered. Document counts are
// recomputed from the documents directory on each call so they are never
// stale.
func (s *Store) List(ctx context.Context, projectID, root string) ([]Bucket, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bucket root: %w", err)
	}
	var buckets []Bucket
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bucket, err := s.Get(ctx, projectID, root, entry.Name())
		if err != nil {
			if fault.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

// SetActive toggles whether the bucket participates in default aggregate
// queries.
func (s *Store) SetActive(ctx context.Context, projectID, root, name string, active bool) (Bucket, error) {
	dir := bucketDir(root, name)
	bucket, err := readMetadata(dir)
	if err != nil {
		return Bucket{}, err
	}
	bucket.Active = active
	bucket.LastUpdated = time.Now().UTC()
	if err := writeMetadata(dir, bucket); err != nil {
		return Bucket{}, err
	}
	bucket.ProjectID = projectID
	bucket.DocumentCount = countDocuments(documentsDir(root, name))
	return bucket, nil
}

// Delete removes the bucket's index, documents, and metadata irrecoverably.
func (s *Store) Delete(ctx context.Context, projectID, root, name string) error {
	dir := bucketDir(root, name)
	if _, err := readMetadata(dir); err != nil {
		return err
	}
	s.handles.forget(handleKey(projectID, name))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove bucket: %w", err)
	}
	common.Logger().Info("bucket: deleted", "project", projectID, "bucket", name)
	return nil
}

// ForgetProject evicts every cached index handle for a deleted project.
func (s *Store) ForgetProject(projectID string) {
	s.handles.forgetPrefix(projectID + "/")
}

// Ingest persists the raw document first, then attempts to add it to the
// retrieval index. Indexing failure downgrades the status to saved_only but
// never fails the call or loses the uploaded content.
func (s *Store) Ingest(ctx context.Context, projectID, root, name, filename, content string) (IngestResult, error) {
	dir := bucketDir(root, name)
	bucket, err := readMetadata(dir)
	if err != nil {
		return IngestResult{}, err
	}
	if filename == "" || filename != filepath.Base(filename) {
		return IngestResult{}, fault.InvalidInput("filename", filename)
	}

	docsDir := documentsDir(root, name)
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return IngestResult{}, fmt.Errorf("create documents directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(docsDir, filename), []byte(content), 0o644); err != nil {
		return IngestResult{}, fmt.Errorf("save document: %w", err)
	}

	logger := common.Logger()
	result := IngestResult{Filename: filename, Size: len(content), Status: StatusIngested}
	index, err := s.materialize(ctx, projectID, root, name)
	if err == nil {
		err = index.Insert(ctx, content)
	}
	if err != nil {
		logger.Warn("bucket: indexing failed, document saved only", "bucket", name, "file", filename, "error", err)
		result.Status = StatusSavedOnly
		result.Message = err.Error()
		bucket.IndexStatus = IndexDegraded
	} else {
		bucket.IndexStatus = IndexReady
	}

	bucket.DocumentCount = countDocuments(docsDir)
	bucket.LastUpdated = time.Now().UTC()
	if err := writeMetadata(dir, bucket); err != nil {
		return IngestResult{}, err
	}
	logger.Info("bucket: document ingested", "project", projectID, "bucket", name, "file", filename, "status", result.Status)
	return result, nil
}

// materialize returns the single authoritative index handle for the bucket,
// loading the on-disk index on first use after process start and creating it
// when absent.
func (s *Store) materialize(ctx context.Context, projectID, root, name string) (rag.Index, error) {
	path := indexDir(root, name)
	return s.handles.getOrCreate(handleKey(projectID, name), func() (rag.Index, error) {
		index, err := s.engine.LoadIndex(ctx, path)
		if err == nil {
			return index, nil
		}
		if !fault.IsNotFound(err) {
			return nil, fault.IndexUnavailable("bucket", name, err)
		}
		index, err = s.engine.CreateIndex(ctx, path)
		if err != nil {
			return nil, fault.IndexUnavailable("bucket", name, err)
		}
		return index, nil
	})
}

func writeMetadata(dir string, bucket Bucket) error {
	data, err := json.MarshalIndent(bucket, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bucket metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write bucket metadata: %w", err)
	}
	return nil
}

func readMetadata(dir string) (Bucket, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bucket{}, fault.NotFound("bucket", filepath.Base(dir))
		}
		return Bucket{}, fmt.Errorf("read bucket metadata: %w", err)
	}
	var bucket Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return Bucket{}, fmt.Errorf("parse bucket metadata: %w", err)
	}
	return bucket, nil
}

func countDocuments(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}
