// Package retriever defines the document-retrieval contract consumed by the
// answer engine.
//
// The answer engine depends only on this narrow interface; the backing store
// (pgvector, an external search service, an in-memory fixture) is
// interchangeable. Implementations must be safe for concurrent use.
package retriever

import (
	"context"

	"github.com/patchwell/relai/pkg/types"
)

// Retriever retrieves documents relevant to a natural-language query.
type Retriever interface {
	// Retrieve returns the documents most relevant to query, ordered by
	// descending score. An empty result is not an error.
	Retrieve(ctx context.Context, query string) ([]types.SearchResult, error)

	// AddDocuments indexes the given documents so later Retrieve calls can
	// find them. Documents with existing IDs are replaced.
	AddDocuments(ctx context.Context, docs []types.Document) error
}
