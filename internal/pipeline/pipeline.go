// Package pipeline orchestrates brainstorm and write generation: source rows
// and bucket knowledge go in, a versioned artifact comes out.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/inkwell-ai/inkwell/internal/bucket"
	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

// DefaultGenerationTimeout bounds a single provider completion call.
const DefaultGenerationTimeout = 120 * time.Second

const (
	brainstormSystemPrompt = "You are a creative brainstorming assistant. Produce concrete, usable ideas grounded in the provided context."
	writeSystemPrompt      = "You are a skilled writer. Produce polished prose grounded in the provided source material and insights."
)

// Generator runs the two-step generation flow against a project's stores.
type Generator struct {
	registry *project.Registry
	buckets  *bucket.Store
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*Generator)

// WithTimeout overrides the per-call generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func NewGenerator(registry *project.Registry, buckets *bucket.Store, provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		registry: registry,
		buckets:  buckets,
		provider: provider,
		timeout:  DefaultGenerationTimeout,
		logger:   common.Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BrainstormRequest selects the source rows and buckets feeding a brainstorm.
type BrainstormRequest struct {
	ProjectID          string
	SourceTable        string
	RowIDs             []int64
	Buckets            []string
	Tone               string
	SpecialInstruction string
	Instructions       string
	Mode               string
}

// WriteRequest drives a write generation. BrainstormVersion 0 selects the
// latest brainstorm; a write with no prior brainstorm is still valid.
type WriteRequest struct {
	ProjectID         string
	SourceTable       string
	RowIDs            []int64
	BrainstormVersion int
	Tone              string
	Instructions      string
}

// Brainstorm resolves row context, fans the enhanced query out to the
// requested buckets, assembles the prompt, calls the provider, and appends
// the result to the brainstorm ledger.
func (g *Generator) Brainstorm(ctx context.Context, req BrainstormRequest) (project.Artifact, error) {
	if len(req.RowIDs) == 0 {
		return project.Artifact{}, fault.InvalidInput("brainstorm", "row_ids must not be empty")
	}
	if len(req.Buckets) == 0 {
		return project.Artifact{}, fault.InvalidInput("brainstorm", "buckets must not be empty")
	}
	mode, err := rag.ParseMode(req.Mode)
	if err != nil {
		return project.Artifact{}, err
	}
	proj, err := g.registry.GetProject(ctx, req.ProjectID)
	if err != nil {
		return project.Artifact{}, err
	}
	store, err := g.registry.Store(ctx, req.ProjectID)
	if err != nil {
		return project.Artifact{}, err
	}
	rows, err := g.resolveRows(ctx, store, req.SourceTable, req.RowIDs)
	if err != nil {
		return project.Artifact{}, err
	}

	queryText := rows.format("Row") + "\n\nGenerate brainstorming ideas grounded in this context."
	results := g.buckets.QueryMany(ctx, proj.ID, proj.BucketRoot, req.Buckets, queryText, mode)
	guidance := make([]string, 0, len(results))
	for _, res := range results {
		if res.Status != bucket.QuerySuccess {
			g.logger.Warn("pipeline: bucket query failed", "bucket", res.Bucket, "error", res.Content)
			continue
		}
		guidance = append(guidance, "From "+res.Bucket+":\n"+res.Content)
	}

	prompt := buildBrainstormPrompt(req.Tone, rows, guidance, req.SpecialInstruction, req.Instructions)
	content, err := g.complete(ctx, brainstormSystemPrompt, prompt)
	if err != nil {
		return project.Artifact{}, err
	}

	toneKey, _ := resolveTone(req.Tone)
	artifact := project.Artifact{
		Kind:               project.KindBrainstorm,
		SourceTable:        req.SourceTable,
		SourceRows:         req.RowIDs,
		// The ledger records the buckets the caller asked for, not only the
		// ones that answered; a failed sub-query is logged, not hidden.
		BucketsUsed:        req.Buckets,
		Tone:               toneKey,
		SpecialInstruction: req.SpecialInstruction,
		Instructions:       req.Instructions,
		Prompt:             prompt,
		Content:            content,
	}
	saved, err := store.AppendOutput(ctx, project.KindBrainstorm, artifact)
	if err != nil {
		return project.Artifact{}, err
	}
	_ = g.registry.Touch(ctx, req.ProjectID)
	g.logger.Info("pipeline: brainstorm generated",
		"project", req.ProjectID, "version", saved.Version, "buckets", len(guidance))
	return saved, nil
}

// Write resolves the brainstorm context (explicit version or latest),
// assembles the write prompt, calls the provider, and appends the result to
// the write ledger with its word count.
func (g *Generator) Write(ctx context.Context, req WriteRequest) (project.Artifact, error) {
	if len(req.RowIDs) == 0 {
		return project.Artifact{}, fault.InvalidInput("write", "row_ids must not be empty")
	}
	store, err := g.registry.Store(ctx, req.ProjectID)
	if err != nil {
		return project.Artifact{}, err
	}
	rows, err := g.resolveRows(ctx, store, req.SourceTable, req.RowIDs)
	if err != nil {
		return project.Artifact{}, err
	}

	var brainstorm *project.Artifact
	brainstormVersion := 0
	if req.BrainstormVersion > 0 {
		art, err := store.OutputByVersion(ctx, project.KindBrainstorm, req.BrainstormVersion)
		if err != nil {
			return project.Artifact{}, err
		}
		brainstorm = &art
		brainstormVersion = art.Version
	} else {
		latest, err := store.LatestVersion(ctx, project.KindBrainstorm)
		if err != nil {
			return project.Artifact{}, err
		}
		if latest > 0 {
			art, err := store.OutputByVersion(ctx, project.KindBrainstorm, latest)
			if err != nil {
				return project.Artifact{}, err
			}
			brainstorm = &art
			brainstormVersion = art.Version
		}
	}

	prompt := buildWritePrompt(req.Tone, rows, brainstorm, req.Instructions)
	content, err := g.complete(ctx, writeSystemPrompt, prompt)
	if err != nil {
		return project.Artifact{}, err
	}

	toneKey, _ := resolveTone(req.Tone)
	artifact := project.Artifact{
		Kind:              project.KindWrite,
		SourceTable:       req.SourceTable,
		SourceRows:        req.RowIDs,
		BrainstormVersion: brainstormVersion,
		Tone:              toneKey,
		Instructions:      req.Instructions,
		Prompt:            prompt,
		Content:           content,
		WordCount:         countWords(content),
	}
	saved, err := store.AppendOutput(ctx, project.KindWrite, artifact)
	if err != nil {
		return project.Artifact{}, err
	}
	_ = g.registry.Touch(ctx, req.ProjectID)
	g.logger.Info("pipeline: write generated",
		"project", req.ProjectID, "version", saved.Version,
		"brainstorm_version", brainstormVersion, "words", saved.WordCount)
	return saved, nil
}

// Edit revises an existing write artifact and appends the revision to the
// artifact's edit log. The write artifact itself is never mutated.
func (g *Generator) Edit(ctx context.Context, projectID string, writeVersion int, instructions string) (project.Edit, error) {
	if writeVersion <= 0 {
		return project.Edit{}, fault.InvalidInput("edit", "write_version must be positive")
	}
	if instructions == "" {
		return project.Edit{}, fault.InvalidInput("edit", "instructions must not be empty")
	}
	store, err := g.registry.Store(ctx, projectID)
	if err != nil {
		return project.Edit{}, err
	}
	artifact, err := store.OutputByVersion(ctx, project.KindWrite, writeVersion)
	if err != nil {
		return project.Edit{}, err
	}

	prompt := buildEditPrompt(artifact.Content, instructions)
	content, err := g.complete(ctx, writeSystemPrompt, prompt)
	if err != nil {
		return project.Edit{}, err
	}

	edit, err := store.AppendEdit(ctx, writeVersion, instructions, content)
	if err != nil {
		return project.Edit{}, err
	}
	_ = g.registry.Touch(ctx, projectID)
	g.logger.Info("pipeline: edit appended", "project", projectID, "write_version", writeVersion)
	return edit, nil
}

// resolveRows loads the requested rows in request order. Missing rows are
// skipped rather than failing the run; a missing table still fails.
func (g *Generator) resolveRows(ctx context.Context, store *project.Store, table string, ids []int64) (rowContext, error) {
	schema, err := store.TableSchema(ctx, table)
	if err != nil {
		return rowContext{}, err
	}
	rows := make([]project.Row, 0, len(ids))
	for _, id := range ids {
		row, err := store.GetRow(ctx, table, id)
		if err != nil {
			if fault.IsNotFound(err) {
				g.logger.Warn("pipeline: source row missing, skipping", "table", table, "row", id)
				continue
			}
			return rowContext{}, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return rowContext{}, fault.InvalidInput(table, "none of the requested rows exist")
	}
	return rowContext{Table: table, Columns: schema.Columns, Rows: rows}, nil
}

// complete runs one timeout-bounded provider call. Provider failures and
// deadline hits surface as generation faults so transport errors map
// uniformly at the API layer.
func (g *Generator) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	content, err := g.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Error("pipeline: generation timed out", "provider", g.provider.Name(), "timeout", g.timeout)
		} else {
			g.logger.Error("pipeline: generation failed", "provider", g.provider.Name(), "error", err)
		}
		return "", fault.Generation(err)
	}
	g.logger.Debug("pipeline: generation complete",
		"provider", g.provider.Name(), "duration", time.Since(start))
	return content, nil
}
