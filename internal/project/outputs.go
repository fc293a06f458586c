package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// maxVersionRetries bounds the internal retry loop when two writers collide
// on the same version. Conflicts are transient and never surfaced.
const maxVersionRetries = 3

// AppendOutput atomically assigns the next version for (project, kind) and
// persists the artifact. The read-max-then-insert sequence runs inside one
// transaction under the store-wide append mutex, so versions are gapless and
// unique even when both kinds append concurrently. Version on the input is
// ignored.
func (s *Store) AppendOutput(ctx context.Context, kind OutputKind, artifact Artifact) (Artifact, error) {
	if !kind.valid() {
		return Artifact{}, fault.InvalidInput("output kind", string(kind))
	}
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		persisted, err := s.appendOutputOnce(ctx, kind, artifact)
		if err == nil {
			return persisted, nil
		}
		if !isVersionConflict(err) {
			return Artifact{}, err
		}
		lastErr = err
		common.Logger().Debug("project: version conflict, retrying", "kind", kind, "attempt", attempt+1)
	}
	// Liveness valve. With appends serialized in-process the retries cover
	// external writers on the same file; exhausting them means the database
	// is persistently contended, not transiently.
	return Artifact{}, fault.VersionConflict(string(kind), lastErr)
}

func (s *Store) appendOutputOnce(ctx context.Context, kind OutputKind, artifact Artifact) (Artifact, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("begin append output: %w", err)
	}
	defer tx.Rollback()

	table := outputTable(kind)
	var maxVersion int
	if err := tx.GetContext(ctx, &maxVersion,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", table)); err != nil {
		return Artifact{}, fmt.Errorf("read max version: %w", err)
	}
	version := maxVersion + 1

	sourceRows, err := json.Marshal(artifact.SourceRows)
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal source rows: %w", err)
	}
	createdAt := time.Now().UTC()

	var res sql.Result
	switch kind {
	case KindBrainstorm:
		buckets, err := json.Marshal(artifact.BucketsUsed)
		if err != nil {
			return Artifact{}, fmt.Errorf("marshal buckets: %w", err)
		}
		res, err = tx.ExecContext(ctx,
			`INSERT INTO brainstorm_outputs
                         (version, source_table, source_rows, buckets_used, tone, special_instruction, instructions, prompt, content, created_at)
                         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			version, artifact.SourceTable, string(sourceRows), string(buckets),
			artifact.Tone, artifact.SpecialInstruction, artifact.Instructions,
			artifact.Prompt, artifact.Content, createdAt)
		if err != nil {
			return Artifact{}, fmt.Errorf("insert brainstorm output: %w", err)
		}
	case KindWrite:
		var brainstormVersion interface{}
		if artifact.BrainstormVersion > 0 {
			brainstormVersion = artifact.BrainstormVersion
		}
		res, err = tx.ExecContext(ctx,
			`INSERT INTO write_outputs
                         (version, brainstorm_version, source_table, source_rows, tone, instructions, prompt, content, word_count, created_at)
                         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			version, brainstormVersion, artifact.SourceTable, string(sourceRows),
			artifact.Tone, artifact.Instructions, artifact.Prompt, artifact.Content,
			artifact.WordCount, createdAt)
		if err != nil {
			return Artifact{}, fmt.Errorf("insert write output: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Artifact{}, fmt.Errorf("commit append output: %w", err)
	}
	artifact.Kind = kind
	artifact.Version = version
	artifact.CreatedAt = createdAt
	if id, err := res.LastInsertId(); err == nil {
		artifact.ID = id
	}
	return artifact, nil
}

// isVersionConflict classifies the two transient append failures: a losing
// racer's duplicate version, and a deferred transaction refused a write lock
// (SQLITE_BUSY, which sqlite raises immediately on snapshot upgrade without
// consulting busy_timeout).
func isVersionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func outputTable(kind OutputKind) string {
	if kind == KindWrite {
		return "write_outputs"
	}
	return "brainstorm_outputs"
}

// LatestVersion returns the highest committed version for kind, or 0 when no
// artifact exists yet.
func (s *Store) LatestVersion(ctx context.Context, kind OutputKind) (int, error) {
	if !kind.valid() {
		return 0, fault.InvalidInput("output kind", string(kind))
	}
	var version int
	err := s.db.GetContext(ctx, &version,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", outputTable(kind)))
	if err != nil {
		return 0, fmt.Errorf("latest %s version: %w", kind, err)
	}
	return version, nil
}

// OutputByVersion fetches one artifact, or fault.NotFound.
func (s *Store) OutputByVersion(ctx context.Context, kind OutputKind, version int) (Artifact, error) {
	if !kind.valid() {
		return Artifact{}, fault.InvalidInput("output kind", string(kind))
	}
	artifacts, err := s.selectOutputs(ctx, kind, "WHERE version = ?", 0, version)
	if err != nil {
		return Artifact{}, err
	}
	if len(artifacts) == 0 {
		return Artifact{}, fault.NotFound(string(kind), fmt.Sprintf("version %d", version))
	}
	return artifacts[0], nil
}

// OutputHistory lists artifacts most-recent-first. limit <= 0 means all.
func (s *Store) OutputHistory(ctx context.Context, kind OutputKind, limit int) ([]Artifact, error) {
	if !kind.valid() {
		return nil, fault.InvalidInput("output kind", string(kind))
	}
	return s.selectOutputs(ctx, kind, "ORDER BY version DESC", limit)
}

type brainstormRecord struct {
	ID                 int64          `db:"id"`
	Version            int            `db:"version"`
	SourceTable        string         `db:"source_table"`
	SourceRows         string         `db:"source_rows"`
	BucketsUsed        string         `db:"buckets_used"`
	Tone               sql.NullString `db:"tone"`
	SpecialInstruction sql.NullString `db:"special_instruction"`
	Instructions       sql.NullString `db:"instructions"`
	Prompt             sql.NullString `db:"prompt"`
	Content            string         `db:"content"`
	CreatedAt          time.Time      `db:"created_at"`
}

type writeRecord struct {
	ID                int64          `db:"id"`
	Version           int            `db:"version"`
	BrainstormVersion sql.NullInt64  `db:"brainstorm_version"`
	SourceTable       string         `db:"source_table"`
	SourceRows        string         `db:"source_rows"`
	Tone              sql.NullString `db:"tone"`
	Instructions      sql.NullString `db:"instructions"`
	Prompt            sql.NullString `db:"prompt"`
	Content           string         `db:"content"`
	WordCount         sql.NullInt64  `db:"word_count"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (s *Store) selectOutputs(ctx context.Context, kind OutputKind, clause string, limit int, args ...interface{}) ([]Artifact, error) {
	query := fmt.Sprintf("SELECT * FROM %s %s", outputTable(kind), clause)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var out []Artifact
	switch kind {
	case KindBrainstorm:
		var records []brainstormRecord
		if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
			return nil, fmt.Errorf("select brainstorm outputs: %w", err)
		}
		for _, rec := range records {
			artifact := Artifact{
				ID:                 rec.ID,
				Kind:               KindBrainstorm,
				Version:            rec.Version,
				SourceTable:        rec.SourceTable,
				Tone:               rec.Tone.String,
				SpecialInstruction: rec.SpecialInstruction.String,
				Instructions:       rec.Instructions.String,
				Prompt:             rec.Prompt.String,
				Content:            rec.Content,
				CreatedAt:          rec.CreatedAt,
			}
			if err := json.Unmarshal([]byte(rec.SourceRows), &artifact.SourceRows); err != nil {
				return nil, fmt.Errorf("decode source rows for version %d: %w", rec.Version, err)
			}
			if err := json.Unmarshal([]byte(rec.BucketsUsed), &artifact.BucketsUsed); err != nil {
				return nil, fmt.Errorf("decode buckets for version %d: %w", rec.Version, err)
			}
			out = append(out, artifact)
		}
	case KindWrite:
		var records []writeRecord
		if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
			return nil, fmt.Errorf("select write outputs: %w", err)
		}
		for _, rec := range records {
			artifact := Artifact{
				ID:                rec.ID,
				Kind:              KindWrite,
				Version:           rec.Version,
				BrainstormVersion: int(rec.BrainstormVersion.Int64),
				SourceTable:       rec.SourceTable,
				Tone:              rec.Tone.String,
				Instructions:      rec.Instructions.String,
				Prompt:            rec.Prompt.String,
				Content:           rec.Content,
				WordCount:         int(rec.WordCount.Int64),
				CreatedAt:         rec.CreatedAt,
			}
			if err := json.Unmarshal([]byte(rec.SourceRows), &artifact.SourceRows); err != nil {
				return nil, fmt.Errorf("decode source rows for version %d: %w", rec.Version, err)
			}
			out = append(out, artifact)
		}
	}
	return out, nil
}

// AppendEdit records an edit pass against a write artifact. The referenced
// artifact must exist; the edit log is append-only.
func (s *Store) AppendEdit(ctx context.Context, writeVersion int, instructions, content string) (Edit, error) {
	if _, err := s.OutputByVersion(ctx, KindWrite, writeVersion); err != nil {
		return Edit{}, err
	}
	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO edit_history (write_version, instructions, content, created_at) VALUES (?, ?, ?, ?)`,
		writeVersion, instructions, content, createdAt)
	if err != nil {
		return Edit{}, fmt.Errorf("insert edit: %w", err)
	}
	edit := Edit{WriteVersion: writeVersion, Instructions: instructions, Content: content, CreatedAt: createdAt}
	if id, err := res.LastInsertId(); err == nil {
		edit.ID = id
	}
	return edit, nil
}

// EditHistory lists edits for a write artifact, most recent first.
func (s *Store) EditHistory(ctx context.Context, writeVersion int) ([]Edit, error) {
	type editRecord struct {
		ID           int64          `db:"id"`
		WriteVersion int            `db:"write_version"`
		Instructions sql.NullString `db:"instructions"`
		Content      string         `db:"content"`
		CreatedAt    time.Time      `db:"created_at"`
	}
	var records []editRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM edit_history WHERE write_version = ? ORDER BY id DESC`, writeVersion)
	if err != nil {
		return nil, fmt.Errorf("select edits: %w", err)
	}
	edits := make([]Edit, 0, len(records))
	for _, rec := range records {
		edits = append(edits, Edit{
			ID:           rec.ID,
			WriteVersion: rec.WriteVersion,
			Instructions: rec.Instructions.String,
			Content:      rec.Content,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return edits, nil
}
