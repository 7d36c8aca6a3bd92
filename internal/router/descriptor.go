// Package router presents a single completion/streaming/embedding entry point
// backed by N provider adapters.
//
// A [Router] holds a registry of configured providers, picks one per request
// according to a [Strategy], bounds every provider call with a timeout,
// retries transient failures with exponential backoff, and — for the fallback
// strategy — advances to the next candidate provider when the current one is
// exhausted. Each provider is guarded by its own circuit breaker so a
// persistently failing backend is bypassed without waiting out its retries.
//
// Router is safe for concurrent use once all providers are registered.
// Registration is not synchronised with in-flight calls; register everything
// at startup.
package router

import (
	"errors"
	"time"
)

// ErrProviderNotFound is returned when a request names a provider that is not
// registered or is disabled.
var ErrProviderNotFound = errors.New("provider not found")

// ErrModelNotAllowed is returned when a request names a model outside the
// selected provider's allow-list.
var ErrModelNotAllowed = errors.New("model not in provider allow-list")

// ErrNoProviders is returned when no enabled provider is available to serve a
// request.
var ErrNoProviders = errors.New("no enabled providers")

// ErrAllProvidersFailed is returned when every candidate provider failed.
// The last provider error is attached.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrNoEmbedder is returned by Embed/EmbedMany when no embeddings provider is
// configured.
var ErrNoEmbedder = errors.New("no embeddings provider configured")

// Strategy is the policy by which the router picks a provider for a call that
// does not name one explicitly.
type Strategy string

const (
	// StrategyFallback tries the default provider first, then each configured
	// fallback provider in listed order.
	StrategyFallback Strategy = "fallback"

	// StrategyRoundRobin cycles through enabled providers in registration
	// order, independent of prior failures.
	StrategyRoundRobin Strategy = "round-robin"

	// StrategyCostOptimized selects the enabled provider with the lowest
	// configured cost rank. Ties break by registration order.
	StrategyCostOptimized Strategy = "cost-optimized"

	// StrategyLatencyOptimized selects the enabled provider with the lowest
	// configured latency rank. Ties break by registration order.
	StrategyLatencyOptimized Strategy = "latency-optimized"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFallback, StrategyRoundRobin, StrategyCostOptimized, StrategyLatencyOptimized:
		return true
	}
	return false
}

// Descriptor identifies one configured backend. Descriptors are created from
// configuration at startup, owned exclusively by the router's registry, and
// immutable thereafter.
type Descriptor struct {
	// Name uniquely identifies the provider within the router.
	Name string

	// DefaultModel is used when a call does not name a model.
	DefaultModel string

	// Enabled gates the provider. Disabled providers are never selected and
	// explicit requests for them fail with [ErrProviderNotFound].
	Enabled bool

	// Models is an optional allow-list. When non-empty, per-call model
	// overrides must be in the list.
	Models []string

	// CostRank orders providers for [StrategyCostOptimized]; lower is cheaper.
	// Static configuration metadata, not live-measured.
	CostRank int

	// LatencyRank orders providers for [StrategyLatencyOptimized]; lower is
	// faster. Static configuration metadata, not live-measured.
	LatencyRank int

	// MaxRetries overrides the router-level retry budget for this provider.
	// Zero means use the router default.
	MaxRetries int

	// Timeout overrides the router-level per-call timeout for this provider.
	// Zero means use the router default.
	Timeout time.Duration
}

// Options carries per-call completion options. All fields are optional;
// absent fields fall back to router or provider defaults.
type Options struct {
	// Provider forces a specific provider, bypassing the routing strategy.
	Provider string

	// Model overrides the selected provider's default model.
	Model string

	// Temperature, MaxTokens, TopP, FrequencyPenalty, PresencePenalty, and
	// Stop pass through to the provider adapter. Zero values mean "use the
	// backend default".
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string

	// Timeout bounds this call. Zero means use the provider or router default.
	Timeout time.Duration
}
