// Package answer implements retrieval-augmented question answering.
//
// An [Engine] retrieves documents relevant to a question, builds a citation
// prompt from the top-ranked sources, and asks the router for a grounded
// answer. Alongside the answer it reports the sources used and a confidence
// score derived from their retrieval scores.
package answer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/retriever"
	"github.com/patchwell/relai/pkg/types"
)

const (
	// DefaultMaxSources bounds how many retrieved documents feed the prompt.
	DefaultMaxSources = 5

	// noSourcesPlaceholder replaces the context blob when retrieval returns
	// nothing. The model is still invoked so it can say so in its own words.
	noSourcesPlaceholder = "No relevant documents found."
)

// Result is the outcome of one answered question.
type Result struct {
	// Answer is the model's response text.
	Answer string

	// Sources are the documents that fed the prompt, in rank order.
	Sources []types.SearchResult

	// Confidence is the mean retrieval score of the retained sources,
	// clamped to [0,1]. Zero when no sources were found.
	Confidence float64
}

// Chunk is one element of a streamed answer.
type Chunk struct {
	// Content is a piece of answer text. Empty on the terminal chunk.
	Content string

	// Done marks the terminal chunk, which carries Sources and Confidence.
	Done bool

	// Sources and Confidence are set on the terminal chunk only.
	Sources    []types.SearchResult
	Confidence float64

	// Err reports a failure after partial output. Set only on the terminal
	// chunk.
	Err error
}

// Router is the slice of the completion router the engine depends on.
type Router interface {
	Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error)
	Stream(ctx context.Context, messages []types.Message, opts router.Options) (<-chan types.StreamChunk, error)
}

// Config tunes an [Engine].
type Config struct {
	// MaxSources bounds how many retrieved documents feed the prompt.
	// Default: [DefaultMaxSources].
	MaxSources int

	// Metrics receives retrieval latency instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

// Engine answers questions over a document corpus.
type Engine struct {
	rt  Router
	ret retriever.Retriever
	cfg Config
}

// NewEngine builds an Engine over rt and ret.
func NewEngine(rt Router, ret retriever.Retriever, cfg Config) *Engine {
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	return &Engine{rt: rt, ret: ret, cfg: cfg}
}

// Answer retrieves context for question and returns a grounded answer with
// sources and confidence.
func (e *Engine) Answer(ctx context.Context, question string, opts router.Options) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "answer.answer")
	defer span.End()

	sources, err := e.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	res, err := e.rt.Complete(ctx, buildMessages(question, sources), opts)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:     res.Content,
		Sources:    sources,
		Confidence: confidence(sources),
	}, nil
}

// StreamAnswer is Answer over a streamed completion. The terminal chunk
// carries the sources and confidence.
func (e *Engine) StreamAnswer(ctx context.Context, question string, opts router.Options) (<-chan Chunk, error) {
	sources, err := e.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	src, err := e.rt.Stream(ctx, buildMessages(question, sources), opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		for chunk := range src {
			if chunk.Done {
				terminal := Chunk{
					Done:       true,
					Sources:    sources,
					Confidence: confidence(sources),
					Err:        chunk.Err,
				}
				select {
				case out <- terminal:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Chunk{Content: chunk.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// AddDocuments indexes docs through the underlying retriever.
func (e *Engine) AddDocuments(ctx context.Context, docs []types.Document) error {
	return e.ret.AddDocuments(ctx, docs)
}

// retrieve fetches and truncates the ranked sources for question.
func (e *Engine) retrieve(ctx context.Context, question string) ([]types.SearchResult, error) {
	start := time.Now()
	results, err := e.ret.Retrieve(ctx, question)
	e.cfg.Metrics.RecordRetrievalDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("answer: retrieval failed: %w", err)
	}
	if len(results) > e.cfg.MaxSources {
		results = results[:e.cfg.MaxSources]
	}
	return results, nil
}

// buildMessages renders the citation prompt for question over sources.
func buildMessages(question string, sources []types.SearchResult) []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: citationInstructions},
		{Role: types.RoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlob(sources), question)},
	}
}

// contextBlob renders the numbered source list fed to the model.
func contextBlob(sources []types.SearchResult) string {
	if len(sources) == 0 {
		return noSourcesPlaceholder
	}
	parts := make([]string, len(sources))
	for i, s := range sources {
		part := fmt.Sprintf("[%d] %s", i+1, s.Document.Content)
		if len(s.Document.Metadata) > 0 {
			part += " (" + renderMetadata(s.Document.Metadata) + ")"
		}
		parts[i] = part
	}
	return strings.Join(parts, "\n---\n")
}

// renderMetadata formats metadata as "k: v" pairs in key order.
func renderMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + ": " + meta[k]
	}
	return strings.Join(pairs, ", ")
}

// confidence is the clamped mean score of the retained sources.
func confidence(sources []types.SearchResult) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Score
	}
	mean := sum / float64(len(sources))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

const citationInstructions = `You are a question-answering assistant. Answer strictly from the numbered context passages provided. Cite the passages you used with bracketed numbers, e.g. [1]. If the context does not contain the answer, say so plainly instead of guessing.`
