// Package embeddings defines the Provider interface for text-embedding backends.
//
// An embeddings provider maps text strings to dense float32 vectors. The
// router exposes it through its Embed/EmbedMany operations, and the pgvector
// retriever uses it to index documents and embed queries for similarity
// search.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in the same similarity computation unless both
// use the same model and space.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled. Text is passed to the backend verbatim; any
	// model-specific prefixing is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedMany computes embedding vectors for a slice of texts in a single
	// backend call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. On error the entire result is nil;
	// partial results are never returned.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, constant for the lifetime of the instance.
	Dimensions() int

	// Model returns the backend-specific embedding model identifier
	// (e.g., "text-embedding-3-small", "nomic-embed-text").
	Model() string
}
