// Package memory provides an in-memory [retriever.Retriever] backed by simple
// keyword-overlap scoring. It needs no database and no embeddings provider,
// which makes it the default retrieval backend when no vector store is
// configured, and a convenient fixture for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/patchwell/relai/pkg/retriever"
	"github.com/patchwell/relai/pkg/types"
)

// defaultTopK is how many results Retrieve returns when not overridden.
const defaultTopK = 10

// Compile-time assertion that Store satisfies the retriever interface.
var _ retriever.Retriever = (*Store)(nil)

// Store is a thread-safe, in-memory document store. Relevance is the fraction
// of distinct query terms appearing in the document, so scores land in [0, 1]
// like the vector-backed stores. The zero value is ready to use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]types.Document
	topK int
}

// Option is a functional option for Store.
type Option func(*Store)

// WithTopK sets how many results Retrieve returns. Default: 10.
func WithTopK(k int) Option {
	return func(s *Store) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewStore returns an initialised [Store].
func NewStore(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]types.Document),
		topK: defaultTopK,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddDocuments implements [retriever.Retriever.AddDocuments]. Documents with
// existing IDs are replaced; documents with empty IDs or empty content are
// skipped.
func (s *Store) AddDocuments(_ context.Context, docs []types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs == nil {
		s.docs = make(map[string]types.Document)
	}
	for _, d := range docs {
		if d.ID == "" || d.Content == "" {
			continue
		}
		s.docs[d.ID] = d
	}
	return nil
}

// Retrieve implements [retriever.Retriever.Retrieve]. Documents matching no
// query term are omitted; ties are broken by document ID so results are
// deterministic.
func (s *Store) Retrieve(_ context.Context, query string) ([]types.SearchResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []types.SearchResult
	for _, d := range s.docs {
		if score := overlap(terms, d.Content); score > 0 {
			results = append(results, types.SearchResult{Document: d, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	topK := s.topK
	if topK <= 0 {
		topK = defaultTopK
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// tokenize lowercases text and splits it into distinct alphanumeric terms.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		terms[f] = struct{}{}
	}
	return terms
}

// overlap returns the fraction of query terms present in content.
func overlap(terms map[string]struct{}, content string) float64 {
	present := tokenize(content)
	matched := 0
	for t := range terms {
		if _, ok := present[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
