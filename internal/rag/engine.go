// Package rag defines the contract for the external retrieval engine. The
// service never sees embeddings or index internals; it addresses each index
// by its on-disk working directory and consumes insert/query only.
package rag

import (
	"context"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Mode selects the retrieval strategy for a query. The values are passed
// through to the engine verbatim.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeGlobal Mode = "global"
	ModeMix    Mode = "mix"
)

// ParseMode normalizes a user-supplied mode string. "hybrid" is accepted as
// an alias for mix; the empty string selects mix.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "mix", "hybrid":
		return ModeMix, nil
	case "local":
		return ModeLocal, nil
	case "global":
		return ModeGlobal, nil
	default:
		return "", fault.InvalidInput("query mode", raw)
	}
}

// Index is a handle to one retrieval index.
type Index interface {
	Insert(ctx context.Context, text string) error
	Query(ctx context.Context, text string, mode Mode) (string, error)
}

// Engine creates and loads indices. LoadIndex returns a fault.NotFound error
// when no index exists at the given path.
type Engine interface {
	CreateIndex(ctx context.Context, path string) (Index, error)
	LoadIndex(ctx context.Context, path string) (Index, error)
}
