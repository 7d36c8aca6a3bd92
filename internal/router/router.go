package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/resilience"
	"github.com/patchwell/relai/pkg/provider/embeddings"
	"github.com/patchwell/relai/pkg/provider/llm"
	"github.com/patchwell/relai/pkg/types"
)

const defaultTimeout = 60 * time.Second

// Config holds router-level defaults. Per-provider and per-call settings
// override these.
type Config struct {
	// Strategy selects providers for calls that do not name one.
	// Defaults to [StrategyFallback].
	Strategy Strategy

	// DefaultProvider is the first candidate under [StrategyFallback].
	DefaultProvider string

	// FallbackProviders are tried in order after DefaultProvider under
	// [StrategyFallback].
	FallbackProviders []string

	// MaxRetries is the default retry budget per provider attempt.
	MaxRetries int

	// Timeout is the default bound on a single provider call.
	Timeout time.Duration

	// CircuitBreaker configures the per-provider breakers. Name is filled in
	// per provider.
	CircuitBreaker resilience.CircuitBreakerConfig

	// Metrics receives routing instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

type entry struct {
	desc     Descriptor
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
}

// Router dispatches completion and embedding requests across registered
// providers.
type Router struct {
	cfg      Config
	entries  []*entry // registration order
	byName   map[string]*entry
	rr       atomic.Uint64
	embedder embeddings.Provider
}

// New returns a Router with no providers registered.
func New(cfg Config) *Router {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFallback
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Router{
		cfg:    cfg,
		byName: make(map[string]*entry),
	}
}

// Register adds a provider under desc. Registering a duplicate name is an
// error.
func (r *Router) Register(desc Descriptor, p llm.Provider) error {
	if desc.Name == "" {
		return errors.New("router: provider name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("router: provider %q is nil", desc.Name)
	}
	if _, dup := r.byName[desc.Name]; dup {
		return fmt.Errorf("router: provider %q already registered", desc.Name)
	}
	bc := r.cfg.CircuitBreaker
	bc.Name = desc.Name
	e := &entry{
		desc:     desc,
		provider: p,
		breaker:  resilience.NewCircuitBreaker(bc),
	}
	r.entries = append(r.entries, e)
	r.byName[desc.Name] = e
	return nil
}

// SetEmbedder installs the embeddings provider used by Embed and EmbedMany.
func (r *Router) SetEmbedder(p embeddings.Provider) {
	r.embedder = p
}

// Providers returns the descriptors of all registered providers in
// registration order.
func (r *Router) Providers() []Descriptor {
	descs := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		descs[i] = e.desc
	}
	return descs
}

// Complete runs a chat completion against a provider chosen per opts and the
// router's strategy. Transient failures are retried and, under the fallback
// strategy, remaining candidates are tried in order. Permanent failures
// surface immediately.
func (r *Router) Complete(ctx context.Context, messages []types.Message, opts Options) (*types.CompletionResult, error) {
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

		start := time.Now()
		resp, err := r.tryComplete(ctx, e, req, opts)
		r.cfg.Metrics.RecordCompletionDuration(ctx, e.desc.Name, time.Since(start).Seconds())
		if err == nil {
			r.cfg.Metrics.RecordProviderRequest(ctx, e.desc.Name, "complete", "ok")
			return makeResult(e.desc.Name, model, resp), nil
		}
		r.cfg.Metrics.RecordProviderRequest(ctx, e.desc.Name, "complete", "error")
		r.cfg.Metrics.RecordProviderError(ctx, e.desc.Name, "complete")
		lastErr = err

		if !advanceable(err) {
			return nil, err
		}
		if i < len(cands)-1 {
			observe.Logger(ctx).Warn("provider failed, advancing to next candidate",
				"provider", e.desc.Name, "error", err)
			r.cfg.Metrics.RecordFallback(ctx, e.desc.Name)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// Embed embeds a single text with the configured embeddings provider.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	var vec []float32
	err := r.retryPolicy(0).Do(ctx, "embed", func() error {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		var err error
		vec, err = r.embedder.Embed(cctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedMany embeds a batch of texts with the configured embeddings provider.
func (r *Router) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	var vecs [][]float32
	err := r.retryPolicy(0).Do(ctx, "embed_many", func() error {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		var err error
		vecs, err = r.embedder.EmbedMany(cctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// tryComplete runs one candidate with its retry budget, timeout, and circuit
// breaker applied.
func (r *Router) tryComplete(ctx context.Context, e *entry, req llm.CompletionRequest, opts Options) (*llm.CompletionResponse, error) {
	timeout := r.callTimeout(e, opts)
	var resp *llm.CompletionResponse
	err := r.retryPolicy(e.desc.MaxRetries).Do(ctx, e.desc.Name, func() error {
		return e.breaker.Execute(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			var err error
			resp, err = e.provider.Complete(cctx, req)
			return err
		})
	})
	return resp, err
}

// candidates resolves the ordered provider list for one call. An explicit
// opts.Provider bypasses the strategy entirely.
func (r *Router) candidates(opts Options) ([]*entry, error) {
	if opts.Provider != "" {
		e, ok := r.byName[opts.Provider]
		if !ok || !e.desc.Enabled {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, opts.Provider)
		}
		return []*entry{e}, nil
	}

	enabled := r.enabledEntries()
	if len(enabled) == 0 {
		return nil, ErrNoProviders
	}

	switch r.cfg.Strategy {
	case StrategyRoundRobin:
		idx := (r.rr.Add(1) - 1) % uint64(len(enabled))
		return []*entry{enabled[idx]}, nil

	case StrategyCostOptimized:
		return []*entry{minByRank(enabled, func(e *entry) int { return e.desc.CostRank })}, nil

	case StrategyLatencyOptimized:
		return []*entry{minByRank(enabled, func(e *entry) int { return e.desc.LatencyRank })}, nil

	default: // StrategyFallback
		names := make([]string, 0, 1+len(r.cfg.FallbackProviders))
		if r.cfg.DefaultProvider != "" {
			names = append(names, r.cfg.DefaultProvider)
		}
		names = append(names, r.cfg.FallbackProviders...)
		if len(names) == 0 {
			// No explicit chain configured: fall back over every enabled
			// provider in registration order.
			return enabled, nil
		}
		var cands []*entry
		for _, name := range names {
			e, ok := r.byName[name]
			if !ok {
				slog.Warn("fallback chain names unknown provider", "provider", name)
				continue
			}
			if !e.desc.Enabled {
				continue
			}
			cands = append(cands, e)
		}
		if len(cands) == 0 {
			return nil, ErrNoProviders
		}
		return cands, nil
	}
}

func (r *Router) enabledEntries() []*entry {
	var out []*entry
	for _, e := range r.entries {
		if e.desc.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// resolveModel picks the model for a call against e, enforcing the
// descriptor's allow-list on overrides.
func (r *Router) resolveModel(e *entry, opts Options) (string, error) {
	if opts.Model != "" {
		if len(e.desc.Models) > 0 && !slices.Contains(e.desc.Models, opts.Model) {
			return "", fmt.Errorf("%w: %q on provider %q", ErrModelNotAllowed, opts.Model, e.desc.Name)
		}
		return opts.Model, nil
	}
	if e.desc.DefaultModel == "" {
		return "", fmt.Errorf("router: provider %q has no default model and none was given", e.desc.Name)
	}
	return e.desc.DefaultModel, nil
}

func (r *Router) retryPolicy(maxRetries int) resilience.RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = r.cfg.MaxRetries
	}
	return resilience.RetryPolicy{MaxRetries: maxRetries}
}

func (r *Router) callTimeout(e *entry, opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if e.desc.Timeout > 0 {
		return e.desc.Timeout
	}
	return r.cfg.Timeout
}

// advanceable reports whether err should cause the router to try the next
// candidate. Permanent provider errors surface to the caller instead.
func advanceable(err error) bool {
	return resilience.Transient(err) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, resilience.ErrAllAttemptsFailed)
}

func minByRank(entries []*entry, rank func(*entry) int) *entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if rank(e) < rank(best) {
			best = e
		}
	}
	return best
}

func buildRequest(model string, messages []types.Message, opts Options) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		TopP:             opts.TopP,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Stop:             opts.Stop,
	}
}

func makeResult(providerName, requestedModel string, resp *llm.CompletionResponse) *types.CompletionResult {
	model := resp.Model
	if model == "" {
		model = requestedModel
	}
	return &types.CompletionResult{
		Content:      resp.Content,
		Provider:     providerName,
		Model:        model,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
	}
}
