// Package mock provides a test double for the retriever.Retriever interface.
package mock

import (
	"context"
	"sync"

	"github.com/patchwell/relai/pkg/retriever"
	"github.com/patchwell/relai/pkg/types"
)

// RetrieveCall records a single invocation of Retrieve.
type RetrieveCall struct {
	// Ctx is the context passed to Retrieve.
	Ctx context.Context
	// Query is the query string passed to Retrieve.
	Query string
}

// Retriever is a mock implementation of retriever.Retriever.
// Zero values cause methods to return empty results and nil errors.
type Retriever struct {
	mu sync.Mutex

	// RetrieveResults is returned by Retrieve.
	RetrieveResults []types.SearchResult

	// RetrieveErr, if non-nil, is returned as the error from Retrieve.
	RetrieveErr error

	// AddDocumentsErr, if non-nil, is returned as the error from AddDocuments.
	AddDocumentsErr error

	// RetrieveCalls records every call to Retrieve in order.
	RetrieveCalls []RetrieveCall

	// AddedDocuments accumulates every document passed to AddDocuments.
	AddedDocuments []types.Document
}

// Retrieve records the call and returns RetrieveResults, RetrieveErr.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]types.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RetrieveCalls = append(r.RetrieveCalls, RetrieveCall{Ctx: ctx, Query: query})
	return r.RetrieveResults, r.RetrieveErr
}

// AddDocuments records the documents and returns AddDocumentsErr.
func (r *Retriever) AddDocuments(ctx context.Context, docs []types.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AddDocumentsErr != nil {
		return r.AddDocumentsErr
	}
	r.AddedDocuments = append(r.AddedDocuments, docs...)
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (r *Retriever) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RetrieveCalls = nil
	r.AddedDocuments = nil
}

// Ensure Retriever implements retriever.Retriever at compile time.
var _ retriever.Retriever = (*Retriever)(nil)
