package project

import (
	"regexp"
	"time"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Project is the registry's view of one isolated workspace: an id, a sqlite
// database of user tables and outputs, and a bucket root for retrieval
// indices.
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	DBPath      string    `json:"db_path" db:"db_path"`
	BucketRoot  string    `json:"bucket_root" db:"bucket_root"`
	Tables      []string  `json:"tables" db:"-"`
}

// TableDefinition names a user table and its ordered text columns.
type TableDefinition struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableSchema describes an existing user table.
type TableSchema struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}

// Row is a schema-validated record from a user table. Values holds every
// column except the implicit id.
type Row struct {
	ID     int64             `json:"id"`
	Values map[string]string `json:"values"`
}

// OutputKind distinguishes the two generation workflows. Versions are scoped
// independently per kind within a project.
type OutputKind string

const (
	KindBrainstorm OutputKind = "brainstorm"
	KindWrite      OutputKind = "write"
)

func (k OutputKind) valid() bool {
	return k == KindBrainstorm || k == KindWrite
}

// Artifact is an immutable generation result. Version is unique and strictly
// increasing per (project, kind), starting at 1.
type Artifact struct {
	ID                 int64      `json:"id"`
	Kind               OutputKind `json:"kind"`
	Version            int        `json:"version"`
	SourceTable        string     `json:"source_table"`
	SourceRows         []int64    `json:"source_rows"`
	BucketsUsed        []string   `json:"buckets_used,omitempty"`
	BrainstormVersion  int        `json:"brainstorm_version,omitempty"`
	Tone               string     `json:"tone"`
	SpecialInstruction string     `json:"special_instruction,omitempty"`
	Instructions       string     `json:"instructions,omitempty"`
	Prompt             string     `json:"prompt"`
	Content            string     `json:"content"`
	WordCount          int        `json:"word_count,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Edit is one entry in the append-only edit log for a write artifact. The
// original artifact is never mutated.
type Edit struct {
	ID           int64     `json:"id"`
	WriteVersion int       `json:"write_version"`
	Instructions string    `json:"instructions"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Tables managed by the store itself; user tables may not collide with them.
var reservedTables = map[string]struct{}{
	"project_metadata":   {},
	"brainstorm_outputs": {},
	"write_outputs":      {},
	"edit_history":       {},
}

// ValidateIdentifier enforces the table/column naming rule before any DDL or
// query interpolation happens.
func ValidateIdentifier(resource, name string) error {
	if !identifierPattern.MatchString(name) {
		return fault.InvalidInput(resource, name)
	}
	return nil
}

func validateTableName(name string) error {
	if err := ValidateIdentifier("table", name); err != nil {
		return err
	}
	if _, reserved := reservedTables[name]; reserved {
		return fault.InvalidInput("table", name)
	}
	return nil
}
