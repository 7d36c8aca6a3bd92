package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/patchwell/relai/internal/agent/mcptools"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references in credential and endpoint fields,
// so API keys can stay out of config files. Other fields (prompts in
// particular) are left untouched.
func expandEnv(cfg *Config) {
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}
	cfg.Retriever.PostgresDSN = os.ExpandEnv(cfg.Retriever.PostgresDSN)
	cfg.Retriever.Embeddings.APIKey = os.ExpandEnv(cfg.Retriever.Embeddings.APIKey)
	cfg.Retriever.Embeddings.BaseURL = os.ExpandEnv(cfg.Retriever.Embeddings.BaseURL)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("providers must list at least one provider"))
	}

	names := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := names[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			names[p.Name] = i
		}
		if !p.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", prefix, p.Kind))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if p.Model != "" && len(p.Models) > 0 && !slices.Contains(p.Models, p.Model) {
			errs = append(errs, fmt.Errorf("%s.model %q is not in its own models allow-list", prefix, p.Model))
		}
		if p.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries must not be negative", prefix))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
	}

	if cfg.Router.Strategy != "" && !cfg.Router.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("router.strategy %q is invalid; valid values: fallback, round-robin, cost-optimized, latency-optimized", cfg.Router.Strategy))
	}
	validateChainRef := func(field, name string) {
		if name == "" {
			return
		}
		if _, ok := names[name]; !ok {
			errs = append(errs, fmt.Errorf("%s names unknown provider %q", field, name))
		}
	}
	validateChainRef("router.default_provider", cfg.Router.DefaultProvider)
	for i, name := range cfg.Router.FallbackProviders {
		validateChainRef(fmt.Sprintf("router.fallback_providers[%d]", i), name)
	}
	if cfg.Router.MaxRetries < 0 {
		errs = append(errs, errors.New("router.max_retries must not be negative"))
	}
	if cfg.Router.Timeout < 0 {
		errs = append(errs, errors.New("router.timeout must not be negative"))
	}

	if cfg.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must not be negative"))
	}
	for i, srv := range cfg.Agent.MCPServers {
		prefix := fmt.Sprintf("agent.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcptools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcptools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	if cfg.Conversation.MaxMessages < 0 {
		errs = append(errs, errors.New("conversation.max_messages must not be negative"))
	}
	if cfg.Answer.MaxSources < 0 {
		errs = append(errs, errors.New("answer.max_sources must not be negative"))
	}

	if cfg.Retriever.PostgresDSN != "" {
		if cfg.Retriever.Embeddings.Kind == "" {
			errs = append(errs, errors.New("retriever.embeddings.kind is required when retriever.postgres_dsn is set"))
		} else if cfg.Retriever.Embeddings.Kind != KindOpenAI && cfg.Retriever.Embeddings.Kind != KindOllama {
			errs = append(errs, fmt.Errorf("retriever.embeddings.kind %q is invalid; valid values: openai, ollama", cfg.Retriever.Embeddings.Kind))
		}
	} else {
		slog.Warn("retriever.postgres_dsn is empty; answers will run without document retrieval")
	}

	return errors.Join(errs...)
}
