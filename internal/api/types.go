package api

import "github.com/inkwell-ai/inkwell/internal/project"

type createProjectRequest struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Tables      []project.TableDefinition `json:"tables,omitempty"`
}

type createTableRequest struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type rowRequest struct {
	Values map[string]string `json:"values"`
}

type createBucketRequest struct {
	Name     string `json:"name"`
	Guidance string `json:"guidance"`
	Active   *bool  `json:"active,omitempty"`
}

type toggleBucketRequest struct {
	Active bool `json:"active"`
}

type uploadDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type queryBucketsRequest struct {
	Buckets []string `json:"buckets"`
	Query   string   `json:"query"`
	Mode    string   `json:"mode,omitempty"`
}

type brainstormRequest struct {
	SourceTable        string   `json:"source_table"`
	RowIDs             []int64  `json:"row_ids"`
	Buckets            []string `json:"buckets"`
	Tone               string   `json:"tone,omitempty"`
	SpecialInstruction string   `json:"special_instruction,omitempty"`
	Instructions       string   `json:"instructions,omitempty"`
	Mode               string   `json:"mode,omitempty"`
}

type writeRequest struct {
	SourceTable       string  `json:"source_table"`
	RowIDs            []int64 `json:"row_ids"`
	BrainstormVersion int     `json:"brainstorm_version,omitempty"`
	Tone              string  `json:"tone,omitempty"`
	Instructions      string  `json:"instructions,omitempty"`
}

type editRequest struct {
	Instructions string `json:"instructions"`
}
