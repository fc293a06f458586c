package bucket

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/inkwell-ai/inkwell/internal/rag"
)

func TestQueryManyPreservesRequestOrder(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	store := NewStore(engine)
	root := t.TempDir()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := store.Create(ctx, "p1", root, name, "guidance for "+name, true); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		engine.indexFor(root, "p1", name).response = "knowledge from " + name
	}

	results := store.QueryMany(ctx, "p1", root, []string{"gamma", "alpha", "beta"}, "what happens next?", rag.ModeMix)
	if len(results) != 3 {
		t.Fatalf("expected three results, got %d", len(results))
	}
	for i, want := range []string{"gamma", "alpha", "beta"} {
		if results[i].Bucket != want {
			t.Fatalf("result %d out of order: got %q want %q", i, results[i].Bucket, want)
		}
		if results[i].Status != QuerySuccess {
			t.Fatalf("result %d failed: %+v", i, results[i])
		}
		if results[i].Content != "knowledge from "+want {
			t.Fatalf("result %d wrong content: %q", i, results[i].Content)
		}
	}
}

func TestQueryManyIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	store := NewStore(engine)
	root := t.TempDir()

	for _, name := range []string{"good", "bad", "fine"} {
		if _, err := store.Create(ctx, "p1", root, name, "", true); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	engine.indexFor(root, "p1", "bad").queryErr = errors.New("index exploded")

	results := store.QueryMany(ctx, "p1", root, []string{"good", "bad", "fine"}, "query", rag.ModeLocal)
	if len(results) != 3 {
		t.Fatalf("expected three results, got %d", len(results))
	}
	if results[0].Status != QuerySuccess || results[2].Status != QuerySuccess {
		t.Fatalf("healthy buckets should succeed: %+v", results)
	}
	if results[1].Status != QueryFailed {
		t.Fatalf("failing bucket should be reported, not dropped: %+v", results[1])
	}
	if !strings.Contains(results[1].Content, "index exploded") {
		t.Fatalf("failure description missing: %+v", results[1])
	}
}

func TestQueryManyReportsMissingBucket(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeEngine())
	root := t.TempDir()

	results := store.QueryMany(ctx, "p1", root, []string{"ghost"}, "query", rag.ModeMix)
	if len(results) != 1 || results[0].Status != QueryFailed {
		t.Fatalf("expected a failed result for missing bucket, got %+v", results)
	}
}

func TestCombineResultsSkipsFailures(t *testing.T) {
	combined := CombineResults([]QueryResult{
		{Bucket: "alpha", Content: "first", Status: QuerySuccess},
		{Bucket: "beta", Content: "broken", Status: QueryFailed},
		{Bucket: "gamma", Content: "third", Status: QuerySuccess},
	})
	if !strings.Contains(combined, "From alpha:\nfirst") || !strings.Contains(combined, "From gamma:\nthird") {
		t.Fatalf("successful results missing: %q", combined)
	}
	if strings.Contains(combined, "broken") {
		t.Fatalf("failed result leaked into combined text: %q", combined)
	}
	if CombineResults(nil) != "" {
		t.Fatalf("empty input should combine to empty string")
	}
}
