package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/pkg/provider/llm"
	"github.com/patchwell/relai/pkg/types"
)

// openStream is a provider stream that has been read up to its first content
// chunk. pending holds chunks already consumed from src during the probe.
type openStream struct {
	pending []llm.Chunk
	src     <-chan llm.Chunk
	cancel  context.CancelFunc
}

// Stream runs a streaming completion. Candidate selection, retries, and
// fallback follow the same rules as Complete, with one refinement: a
// candidate is only committed once it produces content (or finishes cleanly
// without any). Failures before that point are treated like a failed call and
// the next candidate is tried, so no partial output from an abandoned
// provider ever reaches the returned channel.
//
// The channel carries zero or more content chunks followed by exactly one
// terminal chunk with Done set. A failure after content has been forwarded
// sets Err on the terminal chunk; the partial content stands.
func (r *Router) Stream(ctx context.Context, messages []types.Message, opts Options) (<-chan types.StreamChunk, error) {
	cands, err := r.candidates(opts)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for i, e := range cands {
		model, err := r.resolveModel(e, opts)
		if err != nil {
			return nil, err
		}
		req := buildRequest(model, messages, opts)

		os, err := r.tryOpenStream(ctx, e, req, opts)
		if err == nil {
			r.cfg.Metrics.RecordProviderRequest(ctx, e.desc.Name, "stream", "ok")
			out := make(chan types.StreamChunk, 32)
			go r.pump(ctx, e.desc.Name, model, os, out)
			return out, nil
		}
		r.cfg.Metrics.RecordProviderRequest(ctx, e.desc.Name, "stream", "error")
		r.cfg.Metrics.RecordProviderError(ctx, e.desc.Name, "stream")
		lastErr = err

		if !advanceable(err) {
			return nil, err
		}
		if i < len(cands)-1 {
			observe.Logger(ctx).Warn("stream provider failed before content, advancing to next candidate",
				"provider", e.desc.Name, "error", err)
			r.cfg.Metrics.RecordFallback(ctx, e.desc.Name)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// tryOpenStream opens a stream against e and probes it until the first
// content chunk, a clean finish, or an error. Only error-free probes return;
// everything else counts as a failed attempt under the retry policy.
func (r *Router) tryOpenStream(ctx context.Context, e *entry, req llm.CompletionRequest, opts Options) (*openStream, error) {
	timeout := r.callTimeout(e, opts)
	var os *openStream
	err := r.retryPolicy(e.desc.MaxRetries).Do(ctx, e.desc.Name, func() error {
		return e.breaker.Execute(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			src, err := e.provider.StreamCompletion(cctx, req)
			if err != nil {
				cancel()
				return err
			}
			probed, err := probe(cctx, src)
			if err != nil {
				cancel()
				return err
			}
			probed.cancel = cancel
			os = probed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return os, nil
}

// probe reads src until it either produces content, closes cleanly, or
// reports an error. Consumed chunks are preserved in pending for the pump.
func probe(ctx context.Context, src <-chan llm.Chunk) (*openStream, error) {
	var pending []llm.Chunk
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-src:
			if !ok {
				// Clean finish with no content: an empty completion.
				return &openStream{pending: pending, src: src}, nil
			}
			if chunk.FinishReason == llm.FinishReasonError {
				return nil, errors.New(chunk.Text)
			}
			pending = append(pending, chunk)
			if chunk.Text != "" {
				return &openStream{pending: pending, src: src}, nil
			}
		}
	}
}

// pump forwards a committed stream to out, translating provider chunks into
// the public chunk shape and guaranteeing exactly one terminal chunk. The
// terminal chunk names the committed provider and model so callers can record
// reply provenance.
func (r *Router) pump(ctx context.Context, providerName, model string, os *openStream, out chan<- types.StreamChunk) {
	defer close(out)
	defer os.cancel()

	start := time.Now()
	defer func() {
		r.cfg.Metrics.RecordCompletionDuration(ctx, providerName, time.Since(start).Seconds())
	}()

	send := func(c types.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, chunk := range os.pending {
		if chunk.Text == "" {
			continue
		}
		if !send(types.StreamChunk{Content: chunk.Text}) {
			return
		}
	}
	for chunk := range os.src {
		if chunk.FinishReason == llm.FinishReasonError {
			// Content already committed; the partial output stands and the
			// failure rides on the terminal chunk.
			r.cfg.Metrics.RecordProviderError(ctx, providerName, "stream")
			send(types.StreamChunk{Done: true, Provider: providerName, Model: model, Err: errors.New(chunk.Text)})
			return
		}
		if chunk.Text == "" {
			continue
		}
		if !send(types.StreamChunk{Content: chunk.Text}) {
			return
		}
	}
	send(types.StreamChunk{Done: true, Provider: providerName, Model: model})
}
