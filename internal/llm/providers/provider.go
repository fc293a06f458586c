package providers

import "context"

// Message is a single chat turn handed to the generation backend.
type Message struct {
	Role    string
	Content string
}

// Provider is the generation backend contract: one completion call per
// pipeline invocation, embeddings only for the retrieval engine's benefit.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Name() string
}
