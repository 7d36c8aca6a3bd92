package answer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/patchwell/relai/internal/router"
	retmock "github.com/patchwell/relai/pkg/retriever/mock"
	"github.com/patchwell/relai/pkg/types"
)

type fakeRouter struct {
	result       *types.CompletionResult
	err          error
	streamChunks []types.StreamChunk
	calls        [][]types.Message
}

func (f *fakeRouter) Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRouter) Stream(ctx context.Context, messages []types.Message, opts router.Options) (<-chan types.StreamChunk, error) {
	f.calls = append(f.calls, messages)
	ch := make(chan types.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func searchResult(id, content string, score float64) types.SearchResult {
	return types.SearchResult{
		Document: types.Document{ID: id, Content: content},
		Score:    score,
	}
}

func TestAnswerWithSources(t *testing.T) {
	ret := &retmock.Retriever{RetrieveResults: []types.SearchResult{
		searchResult("d1", "Go was announced in 2009.", 0.9),
		searchResult("d2", "Go 1.0 shipped in 2012.", 0.7),
	}}
	rt := &fakeRouter{result: &types.CompletionResult{Content: "Go was announced in 2009 [1]."}}
	e := NewEngine(rt, ret, Config{})

	res, err := e.Answer(context.Background(), "When was Go announced?", router.Options{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "Go was announced in 2009 [1]." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(res.Sources))
	}
	if want := (0.9 + 0.7) / 2; math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", res.Confidence, want)
	}

	// Retrieval must have used the raw question.
	if len(ret.RetrieveCalls) != 1 || ret.RetrieveCalls[0].Query != "When was Go announced?" {
		t.Errorf("retrieve calls = %+v", ret.RetrieveCalls)
	}

	// The prompt must number each source.
	user := rt.calls[0][1]
	if user.Role != types.RoleUser {
		t.Fatalf("second message role = %q, want user", user.Role)
	}
	for _, want := range []string{"[1] Go was announced in 2009.", "[2] Go 1.0 shipped in 2012.", "Question: When was Go announced?"} {
		if !strings.Contains(user.Content, want) {
			t.Errorf("prompt missing %q:\n%s", want, user.Content)
		}
	}
}

func TestAnswerTruncatesToMaxSources(t *testing.T) {
	var results []types.SearchResult
	for i := 0; i < 8; i++ {
		results = append(results, searchResult(fmt.Sprintf("d%d", i), fmt.Sprintf("doc %d", i), 1.0-float64(i)*0.1))
	}
	ret := &retmock.Retriever{RetrieveResults: results}
	rt := &fakeRouter{result: &types.CompletionResult{Content: "ok"}}
	e := NewEngine(rt, ret, Config{MaxSources: 3})

	res, err := e.Answer(context.Background(), "q", router.Options{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(res.Sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(res.Sources))
	}
	// Kept in rank order, no re-ranking.
	if res.Sources[0].Document.ID != "d0" || res.Sources[2].Document.ID != "d2" {
		t.Errorf("sources = %+v", res.Sources)
	}
	if strings.Contains(rt.calls[0][1].Content, "doc 3") {
		t.Error("prompt contains a source beyond MaxSources")
	}
}

func TestAnswerZeroSources(t *testing.T) {
	ret := &retmock.Retriever{}
	rt := &fakeRouter{result: &types.CompletionResult{Content: "I don't know."}}
	e := NewEngine(rt, ret, Config{})

	res, err := e.Answer(context.Background(), "anything?", router.Options{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %+v, want none", res.Sources)
	}
	// The model is still invoked, with the placeholder context.
	if len(rt.calls) != 1 {
		t.Fatalf("router calls = %d, want 1", len(rt.calls))
	}
	if !strings.Contains(rt.calls[0][1].Content, noSourcesPlaceholder) {
		t.Errorf("prompt missing placeholder:\n%s", rt.calls[0][1].Content)
	}
}

func TestAnswerConfidenceClamped(t *testing.T) {
	ret := &retmock.Retriever{RetrieveResults: []types.SearchResult{
		searchResult("d1", "x", 1.4),
		searchResult("d2", "y", 1.2),
	}}
	rt := &fakeRouter{result: &types.CompletionResult{Content: "ok"}}
	e := NewEngine(rt, ret, Config{})

	res, err := e.Answer(context.Background(), "q", router.Options{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", res.Confidence)
	}
}

func TestAnswerMetadataRendered(t *testing.T) {
	ret := &retmock.Retriever{RetrieveResults: []types.SearchResult{{
		Document: types.Document{
			ID:       "d1",
			Content:  "some content",
			Metadata: map[string]string{"source": "handbook", "page": "12"},
		},
		Score: 0.5,
	}}}
	rt := &fakeRouter{result: &types.CompletionResult{Content: "ok"}}
	e := NewEngine(rt, ret, Config{})

	if _, err := e.Answer(context.Background(), "q", router.Options{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(rt.calls[0][1].Content, "(page: 12, source: handbook)") {
		t.Errorf("prompt metadata rendering:\n%s", rt.calls[0][1].Content)
	}
}

func TestAnswerRetrievalError(t *testing.T) {
	boom := errors.New("connection refused")
	ret := &retmock.Retriever{RetrieveErr: boom}
	e := NewEngine(&fakeRouter{}, ret, Config{})

	if _, err := e.Answer(context.Background(), "q", router.Options{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestStreamAnswer(t *testing.T) {
	ret := &retmock.Retriever{RetrieveResults: []types.SearchResult{
		searchResult("d1", "fact", 0.8),
	}}
	rt := &fakeRouter{streamChunks: []types.StreamChunk{
		{Content: "the "},
		{Content: "answer"},
		{Done: true},
	}}
	e := NewEngine(rt, ret, Config{})

	ch, err := e.StreamAnswer(context.Background(), "q", router.Options{})
	if err != nil {
		t.Fatalf("StreamAnswer: %v", err)
	}

	var content string
	var terminals int
	var terminal Chunk
	for chunk := range ch {
		if chunk.Done {
			terminals++
			terminal = chunk
			continue
		}
		content += chunk.Content
	}
	if content != "the answer" {
		t.Errorf("content = %q", content)
	}
	if terminals != 1 {
		t.Errorf("terminal chunks = %d, want 1", terminals)
	}
	if len(terminal.Sources) != 1 || terminal.Sources[0].Document.ID != "d1" {
		t.Errorf("terminal sources = %+v", terminal.Sources)
	}
	if math.Abs(terminal.Confidence-0.8) > 1e-9 {
		t.Errorf("terminal confidence = %v, want 0.8", terminal.Confidence)
	}
}

func TestAddDocumentsPassThrough(t *testing.T) {
	ret := &retmock.Retriever{}
	e := NewEngine(&fakeRouter{}, ret, Config{})

	docs := []types.Document{{ID: "d1", Content: "x"}}
	if err := e.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if len(ret.AddedDocuments) != 1 || ret.AddedDocuments[0].ID != "d1" {
		t.Errorf("added documents = %+v", ret.AddedDocuments)
	}
}
