// Package embedding implements the Embedding Service with Cache (spec
// section 4.4): cache-first acquisition of 1024-dim vectors, batch
// cached/uncached separation, and a local fallback path when the primary
// provider is unreachable.
package embedding

import "context"

// InputType hints at how the provider should embed text: "document" for
// indexed content, "query" for search queries (spec section 4.4,
// embed_for_query). Providers that don't distinguish may ignore it.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Provider produces embeddings for a batch of texts in one round trip.
type Provider interface {
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)
	Name() string
}
