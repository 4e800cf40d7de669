// Package embedding provides the Provider interface memory and message
// indexing call through to obtain vector representations for
// store.Store.VectorSearch. A local chromem-go-backed
// provider is included for embedding without a network round trip; remote
// providers (e.g. an Anthropic-adjacent embeddings endpoint) implement the
// same interface.
package embedding

import "context"

// Provider turns text into a fixed-dimension vector.
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
