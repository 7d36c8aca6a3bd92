// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider adapter wraps one remote or local model API (e.g., OpenAI,
// Anthropic via any-llm, or a local Ollama instance) and normalizes its
// request/response/streaming shape into the common contract consumed by the
// router. The router depends only on this interface, never on a specific
// backend's SDK types.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/patchwell/relai/pkg/types"
)

// CompletionRequest carries everything a backend needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty and Model must be set.
type CompletionRequest struct {
	// Model is the concrete model id to use for this call. The router resolves
	// it from per-call options or the provider's configured default before the
	// request reaches an adapter.
	Model string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests the
	// backend default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// TopP is the nucleus-sampling cutoff. Zero means use the backend default.
	TopP float64

	// FrequencyPenalty penalises repeated tokens. Zero means backend default.
	FrequencyPenalty float64

	// PresencePenalty penalises tokens already present in the context.
	// Zero means backend default.
	PresencePenalty float64

	// Stop lists sequences at which generation halts. Adapters for backends
	// without stop-sequence support may ignore it.
	Stop []string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Model is the concrete model id that served the request, as reported by
	// the backend (may differ from the requested alias).
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage types.Usage

	// FinishReason indicates why generation stopped ("stop", "length", …).
	FinishReason string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty when
	// the chunk carries only a FinishReason.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. The special value "error" marks a mid-stream failure; Text then
	// carries the error message. Empty on non-final chunks.
	FinishReason string
}

// FinishReasonError is the Chunk.FinishReason value marking a mid-stream
// failure surfaced after the stream was successfully opened.
const FinishReasonError = "error"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values in generation order. The channel is closed by
	// the implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason [FinishReasonError]; the initial error return is non-nil
	// only for failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
