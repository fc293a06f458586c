package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

type stubIndex struct {
	response string
	queryErr error
}

func (s *stubIndex) Insert(ctx context.Context, text string) error { return nil }

func (s *stubIndex) Query(ctx context.Context, text string, mode rag.Mode) (string, error) {
	if s.queryErr != nil {
		return "", s.queryErr
	}
	return s.response, nil
}

type stubEngine struct {
	mu      sync.Mutex
	indexes map[string]*stubIndex
}

func newStubEngine() *stubEngine {
	return &stubEngine{indexes: make(map[string]*stubIndex)}
}

func (s *stubEngine) CreateIndex(ctx context.Context, path string) (rag.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := &stubIndex{response: "retrieved knowledge"}
	s.indexes[path] = idx
	return idx, nil
}

func (s *stubEngine) LoadIndex(ctx context.Context, path string) (rag.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[path]; ok {
		return idx, nil
	}
	return nil, fault.NotFound("index", path)
}

type stubProvider struct {
	response string
	err      error
	delay    time.Duration
	mu       sync.Mutex
	prompts  []string
}

func (p *stubProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	for _, msg := range messages {
		if msg.Role == "user" {
			p.prompts = append(p.prompts, msg.Content)
		}
	}
	p.mu.Unlock()
	if p.response != "" {
		return p.response, nil
	}
	return "generated content", nil
}

func (p *stubProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, nil
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

type fixture struct {
	registry *project.Registry
	buckets  *bucket.Store
	provider *stubProvider
	proj     project.Project
}

func newFixture(t *testing.T, provider *stubProvider, opts ...Option) (*Generator, *fixture) {
	t.Helper()
	ctx := context.Background()
	cfg, err := project.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	registry, err := project.NewRegistry(filepath.Join(t.TempDir(), "projects"), cfg)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	proj, err := registry.CreateProject(ctx, "Test Novel", "", []project.TableDefinition{
		{Name: "characters", Columns: []string{"name", "role"}},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	store, err := registry.Store(ctx, proj.ID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for _, values := range []map[string]string{
		{"name": "Elena", "role": "thief"},
		{"name": "Marcus", "role": "fence"},
	} {
		if _, err := store.InsertRow(ctx, "characters", values); err != nil {
			t.Fatalf("insert row: %v", err)
		}
	}

	buckets := bucket.NewStore(newStubEngine())
	if _, err := buckets.Create(ctx, proj.ID, proj.BucketRoot, "lore", "City guilds rule everything", true); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	gen := NewGenerator(registry, buckets, provider, opts...)
	return gen, &fixture{registry: registry, buckets: buckets, provider: provider, proj: proj}
}

func TestBrainstormPersistsVersionedArtifact(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{response: "idea one\nidea two"}
	gen, fx := newFixture(t, provider)

	artifact, err := gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID:   fx.proj.ID,
		SourceTable: "characters",
		RowIDs:      []int64{1, 2},
		Buckets:     []string{"lore"},
		Tone:        "creative",
	})
	if err != nil {
		t.Fatalf("brainstorm: %v", err)
	}
	if artifact.Version != 1 || artifact.Kind != project.KindBrainstorm {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if artifact.Content != "idea one\nidea two" {
		t.Fatalf("unexpected content: %q", artifact.Content)
	}
	if len(artifact.BucketsUsed) != 1 || artifact.BucketsUsed[0] != "lore" {
		t.Fatalf("buckets used not recorded: %+v", artifact)
	}

	prompt := provider.lastPrompt()
	if !strings.Contains(prompt, "name: Elena") || !strings.Contains(prompt, "retrieved knowledge") {
		t.Fatalf("prompt missing row context or bucket knowledge:\n%s", prompt)
	}

	store, err := fx.registry.Store(ctx, fx.proj.ID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	persisted, err := store.OutputByVersion(ctx, project.KindBrainstorm, 1)
	if err != nil {
		t.Fatalf("output by version: %v", err)
	}
	if persisted.Prompt == "" || persisted.Content != artifact.Content {
		t.Fatalf("artifact not fully persisted: %+v", persisted)
	}
}

func TestBrainstormRequiresRowsAndBuckets(t *testing.T) {
	ctx := context.Background()
	gen, fx := newFixture(t, &stubProvider{})

	_, err := gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", Buckets: []string{"lore"},
	})
	if !fault.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty rows, got %v", err)
	}
	_, err = gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1},
	})
	if !fault.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty buckets, got %v", err)
	}
}

func TestBrainstormSkipsMissingRows(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	gen, fx := newFixture(t, provider)

	artifact, err := gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID:   fx.proj.ID,
		SourceTable: "characters",
		RowIDs:      []int64{1, 99},
		Buckets:     []string{"lore"},
	})
	if err != nil {
		t.Fatalf("brainstorm: %v", err)
	}
	if artifact.Version != 1 {
		t.Fatalf("generation should proceed with the surviving rows: %+v", artifact)
	}
	if strings.Contains(provider.lastPrompt(), "Row 2:") {
		t.Fatalf("missing row should not appear in the prompt")
	}
}

func TestBrainstormRecordsRequestedBuckets(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	gen, fx := newFixture(t, provider)

	artifact, err := gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID:   fx.proj.ID,
		SourceTable: "characters",
		RowIDs:      []int64{1},
		Buckets:     []string{"lore", "ghost"},
	})
	if err != nil {
		t.Fatalf("brainstorm: %v", err)
	}
	if len(artifact.BucketsUsed) != 2 || artifact.BucketsUsed[0] != "lore" || artifact.BucketsUsed[1] != "ghost" {
		t.Fatalf("ledger should record the requested buckets even when one fails: %+v", artifact.BucketsUsed)
	}
	if strings.Contains(provider.lastPrompt(), "From ghost:") {
		t.Fatalf("failed bucket must not contribute guidance")
	}
}

func TestWritePicksUpLatestBrainstorm(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	gen, fx := newFixture(t, provider)

	for i := 0; i < 2; i++ {
		provider.response = "brainstorm round " + string(rune('1'+i))
		if _, err := gen.Brainstorm(ctx, BrainstormRequest{
			ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, Buckets: []string{"lore"},
		}); err != nil {
			t.Fatalf("brainstorm %d: %v", i, err)
		}
	}

	provider.response = "the finished scene"
	artifact, err := gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, Tone: "neutral",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.Version != 1 || artifact.Kind != project.KindWrite {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if artifact.BrainstormVersion != 2 {
		t.Fatalf("latest brainstorm not selected: %+v", artifact)
	}
	if artifact.WordCount != 3 {
		t.Fatalf("word count wrong: %+v", artifact)
	}
	if !strings.Contains(provider.lastPrompt(), "BRAINSTORM INSIGHTS (Version 2):") {
		t.Fatalf("write prompt missing brainstorm context:\n%s", provider.lastPrompt())
	}
}

func TestWriteWithExplicitBrainstormVersion(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	gen, fx := newFixture(t, provider)

	for i := 0; i < 2; i++ {
		if _, err := gen.Brainstorm(ctx, BrainstormRequest{
			ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, Buckets: []string{"lore"},
		}); err != nil {
			t.Fatalf("brainstorm %d: %v", i, err)
		}
	}

	artifact, err := gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, BrainstormVersion: 1,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.BrainstormVersion != 1 {
		t.Fatalf("explicit version not honored: %+v", artifact)
	}

	_, err = gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, BrainstormVersion: 42,
	})
	if !fault.IsNotFound(err) {
		t.Fatalf("expected not-found for missing brainstorm version, got %v", err)
	}
}

func TestWriteWithoutAnyBrainstorm(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	gen, fx := newFixture(t, provider)

	artifact, err := gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if artifact.BrainstormVersion != 0 {
		t.Fatalf("expected no brainstorm linkage: %+v", artifact)
	}
	if strings.Contains(provider.lastPrompt(), "BRAINSTORM INSIGHTS") {
		t.Fatalf("prompt should omit brainstorm section")
	}
}

func TestGenerationFailureSurfacesAsGenerationFault(t *testing.T) {
	ctx := context.Background()
	gen, fx := newFixture(t, &stubProvider{err: errors.New("model overloaded")})

	_, err := gen.Brainstorm(ctx, BrainstormRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1}, Buckets: []string{"lore"},
	})
	if !fault.IsGeneration(err) {
		t.Fatalf("expected generation fault, got %v", err)
	}

	store, storeErr := fx.registry.Store(ctx, fx.proj.ID)
	if storeErr != nil {
		t.Fatalf("store: %v", storeErr)
	}
	latest, storeErr := store.LatestVersion(ctx, project.KindBrainstorm)
	if storeErr != nil {
		t.Fatalf("latest version: %v", storeErr)
	}
	if latest != 0 {
		t.Fatalf("failed generation must not consume a version, got %d", latest)
	}
}

func TestGenerationTimeout(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{delay: 200 * time.Millisecond}
	gen, fx := newFixture(t, provider, WithTimeout(20*time.Millisecond))

	_, err := gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1},
	})
	if !fault.IsGeneration(err) {
		t.Fatalf("expected generation fault on timeout, got %v", err)
	}
}

func TestEditAppendsToEditLog(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{response: "original draft"}
	gen, fx := newFixture(t, provider)

	if _, err := gen.Write(ctx, WriteRequest{
		ProjectID: fx.proj.ID, SourceTable: "characters", RowIDs: []int64{1},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	provider.response = "revised draft"
	edit, err := gen.Edit(ctx, fx.proj.ID, 1, "make it punchier")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edit.WriteVersion != 1 || edit.Content != "revised draft" {
		t.Fatalf("unexpected edit: %+v", edit)
	}
	if !strings.Contains(provider.lastPrompt(), "ORIGINAL CONTENT:") {
		t.Fatalf("edit prompt missing original content")
	}

	store, err := fx.registry.Store(ctx, fx.proj.ID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	artifact, err := store.OutputByVersion(ctx, project.KindWrite, 1)
	if err != nil {
		t.Fatalf("output by version: %v", err)
	}
	if artifact.Content != "original draft" {
		t.Fatalf("edit must not mutate the write artifact: %q", artifact.Content)
	}

	if _, err := gen.Edit(ctx, fx.proj.ID, 9, "nope"); !fault.IsNotFound(err) {
		t.Fatalf("expected not-found for missing write version, got %v", err)
	}
	if _, err := gen.Edit(ctx, fx.proj.ID, 1, ""); !fault.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty instructions, got %v", err)
	}
}
