// Package config provides the configuration schema and loader for relai.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/patchwell/relai/internal/agent/mcptools"
	"github.com/patchwell/relai/internal/router"
)

// Duration is a time.Duration that decodes from YAML strings such as "30s"
// or "1m30s" in addition to bare integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// LogLevel controls log verbosity for the relai server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProviderKind selects a provider adapter implementation.
type ProviderKind string

const (
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindGemini    ProviderKind = "gemini"
	KindOllama    ProviderKind = "ollama"
	KindDeepseek  ProviderKind = "deepseek"
	KindMistral   ProviderKind = "mistral"
	KindGroq      ProviderKind = "groq"
	KindLlamaCPP  ProviderKind = "llamacpp"
	KindLlamafile ProviderKind = "llamafile"
)

// IsValid reports whether k is a recognised provider kind.
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindOpenAI, KindAnthropic, KindGemini, KindOllama,
		KindDeepseek, KindMistral, KindGroq, KindLlamaCPP, KindLlamafile:
		return true
	}
	return false
}

// Config is the root configuration structure for relai.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    []ProviderConfig   `yaml:"providers"`
	Router       RouterConfig       `yaml:"router"`
	Agent        AgentConfig        `yaml:"agent"`
	Conversation ConversationConfig `yaml:"conversation"`
	Answer       AnswerConfig       `yaml:"answer"`
	Retriever    RetrieverConfig    `yaml:"retriever"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics and /healthz
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderConfig declares one LLM backend available to the router.
type ProviderConfig struct {
	// Name uniquely identifies this provider in the router and in the
	// router's fallback chain.
	Name string `yaml:"name"`

	// Kind selects the adapter implementation.
	Kind ProviderKind `yaml:"kind"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the default model for this provider.
	Model string `yaml:"model"`

	// Enabled gates the provider. Defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Models is an optional allow-list for per-call model overrides.
	Models []string `yaml:"models"`

	// CostRank and LatencyRank order providers for the cost-optimized and
	// latency-optimized strategies; lower is better.
	CostRank    int `yaml:"cost_rank"`
	LatencyRank int `yaml:"latency_rank"`

	// MaxRetries and Timeout override the router defaults for this provider.
	MaxRetries int      `yaml:"max_retries"`
	Timeout    Duration `yaml:"timeout"`
}

// IsEnabled resolves the Enabled pointer with its default of true.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RouterConfig holds routing strategy and resilience defaults.
type RouterConfig struct {
	// Strategy selects providers for calls that do not name one.
	// Defaults to "fallback".
	Strategy router.Strategy `yaml:"strategy"`

	// DefaultProvider is the first candidate under the fallback strategy.
	DefaultProvider string `yaml:"default_provider"`

	// FallbackProviders are tried in order after DefaultProvider.
	FallbackProviders []string `yaml:"fallback_providers"`

	// MaxRetries is the default retry budget per provider attempt.
	MaxRetries int `yaml:"max_retries"`

	// Timeout is the default bound on a single provider call.
	Timeout Duration `yaml:"timeout"`
}

// AgentConfig tunes the tool-using agent.
type AgentConfig struct {
	// MaxIterations bounds the reasoning loop.
	MaxIterations int `yaml:"max_iterations"`

	// Temperature is passed on every agent completion call.
	Temperature float64 `yaml:"temperature"`

	// MCPServers lists MCP tool servers whose tools are offered to the agent.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server.
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcptools.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is
	// "streamable-http". Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// ConversationConfig tunes the conversation manager.
type ConversationConfig struct {
	// MaxMessages bounds each conversation history, system message included.
	MaxMessages int `yaml:"max_messages"`

	// SystemPrompt seeds every new conversation when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// AnswerConfig tunes the RAG answer engine.
type AnswerConfig struct {
	// MaxSources bounds how many retrieved documents feed the prompt.
	MaxSources int `yaml:"max_sources"`
}

// RetrieverConfig holds settings for the vector retrieval layer.
type RetrieverConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// document store. Empty disables retrieval; the answer engine then runs
	// with an empty in-memory corpus.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Embeddings configures the embeddings provider used for indexing and
	// queries.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// TopK is how many documents a query returns before the answer engine
	// truncates to its MaxSources.
	TopK int `yaml:"top_k"`
}

// EmbeddingsConfig declares the embeddings backend.
type EmbeddingsConfig struct {
	// Kind selects the adapter: "openai" or "ollama".
	Kind ProviderKind `yaml:"kind"`

	// APIKey authenticates hosted embeddings APIs.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default endpoint (required for ollama when not
	// local).
	BaseURL string `yaml:"base_url"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dimensions overrides the model's default vector width.
	Dimensions int `yaml:"dimensions"`
}
