// Package app wires all relai subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from a [config.Config], Run serves the observability endpoints,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithLLMProvider, WithRetriever, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patchwell/relai/internal/agent"
	"github.com/patchwell/relai/internal/agent/mcptools"
	"github.com/patchwell/relai/internal/answer"
	"github.com/patchwell/relai/internal/config"
	"github.com/patchwell/relai/internal/conversation"
	"github.com/patchwell/relai/internal/health"
	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/provider/embeddings"
	ollamaembed "github.com/patchwell/relai/pkg/provider/embeddings/ollama"
	oaiembed "github.com/patchwell/relai/pkg/provider/embeddings/openai"
	"github.com/patchwell/relai/pkg/provider/llm"
	"github.com/patchwell/relai/pkg/provider/llm/anyllm"
	oaillm "github.com/patchwell/relai/pkg/provider/llm/openai"
	"github.com/patchwell/relai/pkg/retriever"
	memretriever "github.com/patchwell/relai/pkg/retriever/memory"
	"github.com/patchwell/relai/pkg/retriever/pgvector"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	rt            *router.Router
	embedder      embeddings.Provider
	ret           retriever.Retriever
	pg            *pgvector.Store
	conversations *conversation.Manager
	answers       *answer.Engine
	agent         *agent.Agent
	bridge        *mcptools.Bridge

	// overrides injected via options; consulted before building from config.
	llmOverrides map[string]llm.Provider

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLLMProvider injects an LLM provider for the named provider config slot
// instead of building an adapter from its kind and credentials.
func WithLLMProvider(name string, p llm.Provider) Option {
	return func(a *App) { a.llmOverrides[name] = p }
}

// WithEmbedder injects an embeddings provider instead of creating one from
// the retriever config.
func WithEmbedder(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithRetriever injects a document retriever instead of creating a pgvector
// or in-memory store from config.
func WithRetriever(r retriever.Retriever) Option {
	return func(a *App) { a.ret = r }
}

// WithMetrics injects a metrics recorder instead of using the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: provider adapters,
// the router, the retrieval layer, the conversation manager, the answer
// engine, and the tool-using agent with its MCP connections.
//
// New performs all initialisation synchronously; a returned error means no
// resources are left open.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		llmOverrides: make(map[string]llm.Provider),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initRouter(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init router: %w", err)
	}
	if err := a.initRetrieval(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init retrieval: %w", err)
	}

	a.conversations = conversation.NewManager(a.rt, conversation.Config{
		MaxMessages:  cfg.Conversation.MaxMessages,
		SystemPrompt: cfg.Conversation.SystemPrompt,
		Metrics:      a.metrics,
	})
	a.answers = answer.NewEngine(a.rt, a.ret, answer.Config{
		MaxSources: cfg.Answer.MaxSources,
		Metrics:    a.metrics,
	})

	if err := a.initAgent(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init agent: %w", err)
	}

	return a, nil
}

// Router returns the provider router.
func (a *App) Router() *router.Router { return a.rt }

// Conversations returns the conversation manager.
func (a *App) Conversations() *conversation.Manager { return a.conversations }

// Answers returns the RAG answer engine.
func (a *App) Answers() *answer.Engine { return a.answers }

// Agent returns the tool-using agent.
func (a *App) Agent() *agent.Agent { return a.agent }

// initRouter builds one provider adapter per configured provider and
// registers them all with a new router.
func (a *App) initRouter() error {
	a.rt = router.New(router.Config{
		Strategy:          a.cfg.Router.Strategy,
		DefaultProvider:   a.cfg.Router.DefaultProvider,
		FallbackProviders: a.cfg.Router.FallbackProviders,
		MaxRetries:        a.cfg.Router.MaxRetries,
		Timeout:           a.cfg.Router.Timeout.Std(),
		Metrics:           a.metrics,
	})

	for _, pc := range a.cfg.Providers {
		p, err := a.buildLLMProvider(pc)
		if err != nil {
			return fmt.Errorf("build provider %q: %w", pc.Name, err)
		}
		desc := router.Descriptor{
			Name:         pc.Name,
			DefaultModel: pc.Model,
			Enabled:      pc.IsEnabled(),
			Models:       pc.Models,
			CostRank:     pc.CostRank,
			LatencyRank:  pc.LatencyRank,
			MaxRetries:   pc.MaxRetries,
			Timeout:      pc.Timeout.Std(),
		}
		if err := a.rt.Register(desc, p); err != nil {
			return err
		}
		slog.Info("registered provider", "name", pc.Name, "kind", pc.Kind, "model", pc.Model, "enabled", desc.Enabled)
	}
	return nil
}

// buildLLMProvider constructs the adapter for one provider config. The
// native OpenAI adapter is used for the openai kind; every other kind goes
// through any-llm-go.
func (a *App) buildLLMProvider(pc config.ProviderConfig) (llm.Provider, error) {
	if p, ok := a.llmOverrides[pc.Name]; ok {
		return p, nil
	}

	if pc.Kind == config.KindOpenAI {
		var opts []oaillm.Option
		if pc.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(pc.BaseURL))
		}
		return oaillm.New(pc.APIKey, opts...)
	}

	var opts []anyllmlib.Option
	if pc.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(pc.APIKey))
	}
	if pc.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(pc.BaseURL))
	}
	return anyllm.New(string(pc.Kind), opts...)
}

// initRetrieval builds the embeddings provider and document store. With a
// Postgres DSN configured the store is pgvector-backed; otherwise an
// in-memory keyword store serves retrieval so the answer engine stays usable.
func (a *App) initRetrieval(ctx context.Context) error {
	rc := a.cfg.Retriever

	if a.embedder == nil && rc.Embeddings.Kind != "" {
		emb, err := a.buildEmbedder(rc.Embeddings)
		if err != nil {
			return fmt.Errorf("build embedder: %w", err)
		}
		a.embedder = emb
	}
	if a.embedder != nil {
		a.rt.SetEmbedder(a.embedder)
	}

	if a.ret != nil {
		return nil
	}

	if rc.PostgresDSN == "" {
		slog.Info("no postgres dsn configured, using in-memory retriever")
		a.ret = memretriever.NewStore(memretriever.WithTopK(rc.TopK))
		return nil
	}

	var opts []pgvector.Option
	if rc.TopK > 0 {
		opts = append(opts, pgvector.WithTopK(rc.TopK))
	}
	store, err := pgvector.NewStore(ctx, rc.PostgresDSN, a.embedder, opts...)
	if err != nil {
		return err
	}
	a.ret = store
	a.pg = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// buildEmbedder constructs the embeddings adapter from config.
func (a *App) buildEmbedder(ec config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch ec.Kind {
	case config.KindOpenAI:
		var opts []oaiembed.Option
		if ec.BaseURL != "" {
			opts = append(opts, oaiembed.WithBaseURL(ec.BaseURL))
		}
		return oaiembed.New(ec.APIKey, ec.Model, opts...)
	case config.KindOllama:
		var opts []ollamaembed.Option
		if ec.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(ec.Dimensions))
		}
		return ollamaembed.New(ec.BaseURL, ec.Model, opts...)
	default:
		return nil, fmt.Errorf("unsupported embeddings kind %q", ec.Kind)
	}
}

// initAgent builds the agent over the router and connects configured MCP
// servers, registering their tools.
func (a *App) initAgent(ctx context.Context) error {
	a.agent = agent.New(a.rt, agent.Config{
		MaxIterations: a.cfg.Agent.MaxIterations,
		Temperature:   a.cfg.Agent.Temperature,
		Metrics:       a.metrics,
	})

	if len(a.cfg.Agent.MCPServers) == 0 {
		return nil
	}

	a.bridge = mcptools.NewBridge()
	a.closers = append(a.closers, a.bridge.Close)

	cfgs := make([]mcptools.ServerConfig, 0, len(a.cfg.Agent.MCPServers))
	for _, srv := range a.cfg.Agent.MCPServers {
		cfgs = append(cfgs, mcptools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			Env:       srv.Env,
			URL:       srv.URL,
		})
	}

	tools, err := a.bridge.ConnectAll(ctx, cfgs)
	if err != nil {
		return err
	}
	for _, t := range tools {
		a.agent.AddTool(t)
		slog.Info("registered agent tool", "name", t.Name)
	}
	return nil
}

// Run serves the /metrics, /healthz, and /readyz endpoints on the configured
// metrics address and blocks until ctx is cancelled. When no address is
// configured, Run just blocks on ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.healthChecks()...).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving metrics and health endpoints", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown error", "err", err)
	}
	return ctx.Err()
}

// healthChecks builds the readiness probes: at least one registered provider
// must be enabled, and the pgvector store (when configured) must reach its
// database.
func (a *App) healthChecks() []health.Check {
	checks := []health.Check{
		{
			Name: "providers",
			Probe: func(context.Context) error {
				for _, d := range a.rt.Providers() {
					if d.Enabled {
						return nil
					}
				}
				return errors.New("no enabled providers")
			},
		},
	}
	if a.pg != nil {
		checks = append(checks, health.Check{Name: "retriever", Probe: a.pg.Ping})
	}
	return checks
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs all closers immediately. Used on init failure paths.
func (a *App) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error during init rollback", "err", err)
		}
	}
	a.closers = nil
}
