// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned embedding vectors without a live model
// and to verify that the correct texts are submitted for embedding.
package mock

import (
	"context"
	"sync"

	"github.com/patchwell/relai/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the string passed to Embed.
	Text string
}

// EmbedManyCall records a single invocation of EmbedMany.
type EmbedManyCall struct {
	// Ctx is the context passed to EmbedMany.
	Ctx context.Context
	// Texts is a copy of the string slice passed to EmbedMany.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedManyResult is returned by EmbedMany. If nil, a slice of nil
	// vectors matching len(texts) is returned.
	EmbedManyResult [][]float32

	// EmbedManyErr, if non-nil, is returned as the error from EmbedMany.
	EmbedManyErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelValue is returned by Model.
	ModelValue string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// EmbedManyCalls records every call to EmbedMany in order.
	EmbedManyCalls []EmbedManyCall
}

// Embed records the call and returns EmbedResult, EmbedErr.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return p.EmbedResult, p.EmbedErr
}

// EmbedMany records the call and returns EmbedManyResult, EmbedManyErr.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedManyCalls = append(p.EmbedManyCalls, EmbedManyCall{Ctx: ctx, Texts: cp})
	if p.EmbedManyErr != nil {
		return nil, p.EmbedManyErr
	}
	if p.EmbedManyResult != nil {
		return p.EmbedManyResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// Model returns ModelValue.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedManyCalls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
