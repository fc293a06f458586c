package bucket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

// Query outcome statuses.
const (
	QuerySuccess = "success"
	QueryFailed  = "error"
)

// QueryResult is one bucket's contribution to a fan-out query. On failure
// Content carries the error description so callers can still assemble
// partial results.
type QueryResult struct {
	Bucket   string `json:"bucket"`
	Content  string `json:"content"`
	Guidance string `json:"guidance,omitempty"`
	Status   string `json:"status"`
}

// QueryMany fans out one concurrent sub-query per named bucket and waits for
// all of them. Results are returned in the order the buckets were requested,
// regardless of completion order. One bucket's failure never aborts the
// others: a failed bucket reports status=error with the error text as its
// content.
func (s *Store) QueryMany(ctx context.Context, projectID, root string, names []string, queryText string, mode rag.Mode) []QueryResult {
	logger := common.Logger()
	results := make([]QueryResult, len(names))

	var wg sync.WaitGroup
	start := time.Now()
	for i, name := range names {
		wg.Add(1)
		go func(slot int, name string) {
			defer wg.Done()
			results[slot] = s.queryOne(ctx, projectID, root, name, queryText, mode)
		}(i, name)
	}
	wg.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Status == QuerySuccess {
			succeeded++
		}
	}
	logger.Info("bucket: fan-out query completed",
		"project", projectID,
		"buckets", len(names),
		"succeeded", succeeded,
		"mode", mode,
		"dur", time.Since(start),
	)
	return results
}

func (s *Store) queryOne(ctx context.Context, projectID, root, name, queryText string, mode rag.Mode) QueryResult {
	result := QueryResult{Bucket: name, Status: QueryFailed}

	bucket, err := readMetadata(bucketDir(root, name))
	if err != nil {
		result.Content = err.Error()
		return result
	}
	result.Guidance = bucket.Guidance

	index, err := s.materialize(ctx, projectID, root, name)
	if err != nil {
		result.Content = err.Error()
		return result
	}

	enhanced := queryText
	if strings.TrimSpace(bucket.Guidance) != "" {
		enhanced = bucket.Guidance + "\n\n" + queryText
	}
	content, err := index.Query(ctx, enhanced, mode)
	if err != nil {
		common.Logger().Warn("bucket: query failed", "project", projectID, "bucket", name, "error", err)
		result.Content = err.Error()
		return result
	}
	result.Content = content
	result.Status = QuerySuccess
	return result
}

// CombineResults joins the successful contents with bucket attribution, the
// shape handed to prompt assembly.
func CombineResults(results []QueryResult) string {
	var sections []string
	for _, res := range results {
		if res.Status != QuerySuccess || strings.TrimSpace(res.Content) == "" {
			continue
		}
		sections = append(sections, "From "+res.Bucket+":\n"+res.Content)
	}
	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n---\n\n")
}
