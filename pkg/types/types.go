// Package types defines the shared types used across all relai packages.
//
// These types form the lingua franca between provider adapters, the router,
// the agent loop, the conversation manager, and the answer engine. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Message roles. Ordering within a message sequence is semantically
// significant: it represents dialogue order.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message represents a single message in an LLM conversation history.
// Messages are value types and must never be mutated after creation.
type Message struct {
	// Role is one of "system", "user", "assistant", or "function".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant or function name.
	Name string
}

// Usage holds token accounting information returned by an LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionResult is the final output of one non-streaming completion call,
// annotated with which provider and model produced it. Immutable once produced.
type CompletionResult struct {
	// Content is the full text of the model's reply.
	Content string

	// Provider is the name of the backend that served the request.
	Provider string

	// Model is the concrete model id that produced the reply.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage

	// FinishReason indicates why generation stopped. Common values are
	// "stop" (natural end) and "length" (max tokens reached).
	FinishReason string
}

// StreamChunk is one element of a streaming completion: a finite, lazy,
// non-restartable sequence of incremental text fragments terminated by
// exactly one Done=true chunk carrying no content.
type StreamChunk struct {
	// Content is the incremental text fragment. Empty on the terminal chunk.
	Content string

	// Done marks the terminal chunk of the stream.
	Done bool

	// Provider and Model identify the backend that served the stream. Set on
	// the terminal chunk only.
	Provider string
	Model    string

	// Err is set only on a terminal chunk, and only when generation failed
	// after partial output had already been forwarded. Failures before any
	// output surface as a call error instead.
	Err error
}

// Document is a unit of retrievable content managed by a Retriever.
type Document struct {
	// ID uniquely identifies the document within its store.
	ID string

	// Content is the document's text.
	Content string

	// Metadata holds arbitrary document annotations (source, title, …).
	// May be nil.
	Metadata map[string]string
}

// SearchResult pairs a retrieved document with its relevance score.
// Produced by a Retriever; read-only to consumers.
type SearchResult struct {
	// Document is the retrieved document.
	Document Document

	// Score is the relevance score in [0, 1], higher is more relevant.
	Score float64
}
