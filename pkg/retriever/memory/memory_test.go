package memory

import (
	"context"
	"testing"

	"github.com/patchwell/relai/pkg/types"
)

func doc(id, content string) types.Document {
	return types.Document{ID: id, Content: content}
}

func TestRetrieveRanksByOverlap(t *testing.T) {
	s := NewStore()
	err := s.AddDocuments(context.Background(), []types.Document{
		doc("a", "the capital of France is Paris"),
		doc("b", "France exports wine and cheese"),
		doc("c", "Go is a programming language"),
	})
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	results, err := s.Retrieve(context.Background(), "capital of France")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Document.ID != "a" {
		t.Errorf("top result = %q, want %q", results[0].Document.ID, "a")
	}
	if results[0].Score != 1.0 {
		t.Errorf("top score = %v, want 1.0", results[0].Score)
	}
	if results[1].Score >= results[0].Score {
		t.Errorf("results not sorted: %v >= %v", results[1].Score, results[0].Score)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	s := NewStore()
	_ = s.AddDocuments(context.Background(), []types.Document{doc("a", "text")})

	results, err := s.Retrieve(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for empty query, want 0", len(results))
	}
}

func TestRetrieveTopK(t *testing.T) {
	s := NewStore(WithTopK(2))
	_ = s.AddDocuments(context.Background(), []types.Document{
		doc("a", "alpha match"),
		doc("b", "alpha match"),
		doc("c", "alpha match"),
	})

	results, err := s.Retrieve(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Equal scores fall back to ID order.
	if results[0].Document.ID != "a" || results[1].Document.ID != "b" {
		t.Errorf("tie-break order = %q, %q", results[0].Document.ID, results[1].Document.ID)
	}
}

func TestAddDocumentsReplacesAndSkips(t *testing.T) {
	s := NewStore()
	_ = s.AddDocuments(context.Background(), []types.Document{
		doc("a", "first version"),
		doc("", "no id"),
		doc("b", ""),
	})
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	_ = s.AddDocuments(context.Background(), []types.Document{doc("a", "second version")})
	if s.Len() != 1 {
		t.Fatalf("Len() = %d after replace, want 1", s.Len())
	}

	results, _ := s.Retrieve(context.Background(), "second")
	if len(results) != 1 {
		t.Fatalf("replaced document not retrievable")
	}
}

func TestZeroValueStoreUsable(t *testing.T) {
	var s Store
	if _, err := s.Retrieve(context.Background(), "anything"); err != nil {
		t.Fatalf("Retrieve on zero value: %v", err)
	}
	if err := s.AddDocuments(context.Background(), []types.Document{doc("a", "text")}); err != nil {
		t.Fatalf("AddDocuments on zero value: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
