package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

type stubIndex struct {
	mu       sync.Mutex
	inserted []string
}

func (s *stubIndex) Insert(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, text)
	return nil
}

func (s *stubIndex) Query(ctx context.Context, text string, mode rag.Mode) (string, error) {
	return "relevant passages", nil
}

type stubEngine struct {
	mu      sync.Mutex
	indexes map[string]*stubIndex
}

func (s *stubEngine) CreateIndex(ctx context.Context, path string) (rag.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes == nil {
		s.indexes = make(map[string]*stubIndex)
	}
	idx := &stubIndex{}
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
}

func (p *stubProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if p.response != "" {
		return p.response, nil
	}
	return "generated text", nil
}

func (p *stubProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, nil
}

func (p *stubProvider) Name() string { return "stub" }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := project.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	registry, err := project.NewRegistry(filepath.Join(t.TempDir(), "projects"), cfg)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	buckets := bucket.NewStore(&stubEngine{})
	provider := &stubProvider{}
	generator := pipeline.NewGenerator(registry, buckets, provider)
	server, err := NewServer(registry, buckets, generator, provider)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var msg map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		t.Fatalf("%s %s: status %d, want %d (%v)", method, url, resp.StatusCode, wantStatus, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var proj project.Project
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects", createProjectRequest{
		Name:        "Nightfall",
		Description: "a heist novel",
		Tables:      []project.TableDefinition{{Name: "characters", Columns: []string{"name", "role"}}},
	}, http.StatusCreated, &proj)
	if proj.ID == "" {
		t.Fatalf("project id missing: %+v", proj)
	}

	var listing struct {
		Projects []project.Project `json:"projects"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects", nil, http.StatusOK, &listing)
	if len(listing.Projects) != 1 {
		t.Fatalf("expected one project, got %+v", listing.Projects)
	}

	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+proj.ID, nil, http.StatusOK, nil)
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/ghost", nil, http.StatusNotFound, nil)

	doJSON(t, http.MethodDelete, ts.URL+"/v1/projects/"+proj.ID, nil, http.StatusOK, nil)
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+proj.ID, nil, http.StatusNotFound, nil)
}

func TestTableAndRowEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var proj project.Project
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects", createProjectRequest{Name: "Rows"}, http.StatusCreated, &proj)

	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables",
		createTableRequest{Name: "scenes", Columns: []string{"title", "summary"}}, http.StatusCreated, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables",
		createTableRequest{Name: "scenes", Columns: []string{"title"}}, http.StatusConflict, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables",
		createTableRequest{Name: "write_outputs", Columns: []string{"x"}}, http.StatusBadRequest, nil)

	var inserted struct {
		ID int64 `json:"id"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables/scenes/rows",
		rowRequest{Values: map[string]string{"title": "Opening", "summary": "The crew assembles"}},
		http.StatusCreated, &inserted)
	if inserted.ID != 1 {
		t.Fatalf("unexpected row id: %d", inserted.ID)
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables/scenes/rows",
		rowRequest{Values: map[string]string{"bogus": "column"}}, http.StatusBadRequest, nil)

	var row project.Row
	doJSON(t, http.MethodPut, fmt.Sprintf("%s/v1/projects/%s/tables/scenes/rows/%d", ts.URL, proj.ID, inserted.ID),
		rowRequest{Values: map[string]string{"summary": "The crew scatters"}}, http.StatusOK, &row)
	if row.Values["summary"] != "The crew scatters" {
		t.Fatalf("update not reflected: %+v", row)
	}

	var tableView struct {
		Schema project.TableSchema `json:"schema"`
		Rows   []project.Row       `json:"rows"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+proj.ID+"/tables/scenes", nil, http.StatusOK, &tableView)
	if tableView.Schema.RowCount != 1 || len(tableView.Rows) != 1 {
		t.Fatalf("unexpected table view: %+v", tableView)
	}

	doJSON(t, http.MethodDelete, fmt.Sprintf("%s/v1/projects/%s/tables/scenes/rows/%d", ts.URL, proj.ID, inserted.ID),
		nil, http.StatusOK, nil)
	doJSON(t, http.MethodDelete, fmt.Sprintf("%s/v1/projects/%s/tables/scenes/rows/%d", ts.URL, proj.ID, inserted.ID),
		nil, http.StatusNotFound, nil)
}

func TestBucketEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var proj project.Project
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects", createProjectRequest{Name: "Buckets"}, http.StatusCreated, &proj)

	var created bucket.Bucket
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets",
		createBucketRequest{Name: "lore", Guidance: "World history"}, http.StatusCreated, &created)
	if created.Name != "lore" || !created.Active {
		t.Fatalf("unexpected bucket: %+v", created)
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets",
		createBucketRequest{Name: "lore"}, http.StatusConflict, nil)

	var ingest bucket.IngestResult
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets/lore/upload",
		uploadDocumentRequest{Filename: "history.txt", Content: "The guild wars lasted a decade."},
		http.StatusOK, &ingest)
	if ingest.Status != bucket.StatusIngested {
		t.Fatalf("unexpected ingest result: %+v", ingest)
	}

	var toggled bucket.Bucket
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets/lore/toggle",
		toggleBucketRequest{Active: false}, http.StatusOK, &toggled)
	if toggled.Active {
		t.Fatalf("toggle not applied: %+v", toggled)
	}

	var queryResp struct {
		Results  []bucket.QueryResult `json:"results"`
		Combined string               `json:"combined"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets/query",
		queryBucketsRequest{Buckets: []string{"lore"}, Query: "what sparked the wars?"},
		http.StatusOK, &queryResp)
	if len(queryResp.Results) != 1 || queryResp.Results[0].Status != bucket.QuerySuccess {
		t.Fatalf("unexpected query results: %+v", queryResp)
	}
	if queryResp.Combined == "" {
		t.Fatalf("combined text missing")
	}

	doJSON(t, http.MethodDelete, ts.URL+"/v1/projects/"+proj.ID+"/buckets/lore", nil, http.StatusOK, nil)
	doJSON(t, http.MethodDelete, ts.URL+"/v1/projects/"+proj.ID+"/buckets/lore", nil, http.StatusNotFound, nil)
}

func TestQueryBucketsDefaultsToActive(t *testing.T) {
	ts := newTestServer(t)

	var proj project.Project
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects", createProjectRequest{Name: "Defaults"}, http.StatusCreated, &proj)

	for _, name := range []string{"lore", "drafts"} {
		doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets",
			createBucketRequest{Name: name}, http.StatusCreated, nil)
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets/drafts/toggle",
		toggleBucketRequest{Active: false}, http.StatusOK, nil)

	var queryResp struct {
		Results []bucket.QueryResult `json:"results"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets/query",
		queryBucketsRequest{Query: "what do we know?"}, http.StatusOK, &queryResp)
	if len(queryResp.Results) != 1 || queryResp.Results[0].Bucket != "lore" {
		t.Fatalf("expected only the active bucket to be queried, got %+v", queryResp.Results)
	}
}

func TestGenerationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var proj project.Project
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects", createProjectRequest{
		Name:   "Generate",
		Tables: []project.TableDefinition{{Name: "characters", Columns: []string{"name"}}},
	}, http.StatusCreated, &proj)
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/tables/characters/rows",
		rowRequest{Values: map[string]string{"name": "Elena"}}, http.StatusCreated, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/buckets",
		createBucketRequest{Name: "lore", Guidance: "World history"}, http.StatusCreated, nil)

	var brainstorm project.Artifact
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/brainstorm", brainstormRequest{
		SourceTable: "characters",
		RowIDs:      []int64{1},
		Buckets:     []string{"lore"},
		Tone:        "creative",
	}, http.StatusCreated, &brainstorm)
	if brainstorm.Version != 1 {
		t.Fatalf("unexpected brainstorm: %+v", brainstorm)
	}

	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/brainstorm", brainstormRequest{
		SourceTable: "characters", Buckets: []string{"lore"},
	}, http.StatusBadRequest, nil)

	var write project.Artifact
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/write", writeRequest{
		SourceTable: "characters",
		RowIDs:      []int64{1},
	}, http.StatusCreated, &write)
	if write.Version != 1 || write.BrainstormVersion != 1 {
		t.Fatalf("unexpected write: %+v", write)
	}

	var edit project.Edit
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/write/1/edit",
		editRequest{Instructions: "shorter"}, http.StatusCreated, &edit)
	if edit.WriteVersion != 1 {
		t.Fatalf("unexpected edit: %+v", edit)
	}
	doJSON(t, http.MethodPost, ts.URL+"/v1/projects/"+proj.ID+"/write/42/edit",
		editRequest{Instructions: "shorter"}, http.StatusNotFound, nil)

	var history struct {
		History []json.RawMessage `json:"history"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+proj.ID+"/brainstorm/history", nil, http.StatusOK, &history)
	if len(history.History) != 1 {
		t.Fatalf("expected one brainstorm entry, got %d", len(history.History))
	}

	var writeHistory struct {
		History []struct {
			project.Artifact
			Edits []project.Edit `json:"edits"`
		} `json:"history"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+proj.ID+"/write/history", nil, http.StatusOK, &writeHistory)
	if len(writeHistory.History) != 1 || len(writeHistory.History[0].Edits) != 1 {
		t.Fatalf("write history missing edits: %+v", writeHistory)
	}
}

func TestTonePresetsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	var tones struct {
		Tones []string `json:"tones"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/tone-presets", nil, http.StatusOK, &tones)
	if len(tones.Tones) == 0 {
		t.Fatalf("tone presets missing")
	}
	found := false
	for _, tone := range tones.Tones {
		if tone == "neutral" {
			found = true
		}
	}
	if !found {
		t.Fatalf("neutral preset missing from %v", tones.Tones)
	}
}
