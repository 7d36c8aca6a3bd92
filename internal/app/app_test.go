package app

import (
	"context"
	"strings"
	"testing"

	"github.com/patchwell/relai/internal/config"
	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/provider/llm"
	llmmock "github.com/patchwell/relai/pkg/provider/llm/mock"
	"github.com/patchwell/relai/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "primary", Kind: config.KindOpenAI, APIKey: "sk-test", Model: "gpt-4o"},
			{Name: "backup", Kind: config.KindOllama, Model: "llama3"},
		},
		Router: config.RouterConfig{
			Strategy:          router.StrategyFallback,
			DefaultProvider:   "primary",
			FallbackProviders: []string{"backup"},
		},
		Conversation: config.ConversationConfig{
			SystemPrompt: "You are a test assistant.",
		},
	}
}

func mockProvider(content string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: content, Model: "test-model"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithLLMProvider("primary", mockProvider("primary says hi")),
		WithLLMProvider("backup", mockProvider("backup says hi")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNewWiresAllSubsystems(t *testing.T) {
	a := newTestApp(t, testConfig())

	if a.Router() == nil {
		t.Fatal("Router() is nil")
	}
	if a.Conversations() == nil {
		t.Fatal("Conversations() is nil")
	}
	if a.Answers() == nil {
		t.Fatal("Answers() is nil")
	}
	if a.Agent() == nil {
		t.Fatal("Agent() is nil")
	}

	descs := a.Router().Providers()
	if len(descs) != 2 {
		t.Fatalf("registered %d providers, want 2", len(descs))
	}
	if descs[0].Name != "primary" || descs[1].Name != "backup" {
		t.Errorf("provider order = %q, %q", descs[0].Name, descs[1].Name)
	}
}

func TestConversationFlowThroughApp(t *testing.T) {
	a := newTestApp(t, testConfig())

	conv, err := a.Conversations().Create(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg, err := a.Conversations().SendMessage(context.Background(), conv.ID, "hello", router.Options{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Content != "primary says hi" {
		t.Errorf("reply = %q", msg.Content)
	}
}

func TestAnswerFlowUsesInMemoryRetriever(t *testing.T) {
	a := newTestApp(t, testConfig())

	err := a.Answers().AddDocuments(context.Background(), []types.Document{
		{ID: "d1", Content: "The relai router supports four strategies."},
	})
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	res, err := a.Answers().Answer(context.Background(), "how many strategies does the router support", router.Options{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "primary says hi" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(res.Sources))
	}
}

func TestNewRejectsBadEmbeddingsKind(t *testing.T) {
	cfg := testConfig()
	cfg.Retriever = config.RetrieverConfig{
		PostgresDSN: "postgres://localhost/relai",
		Embeddings:  config.EmbeddingsConfig{Kind: config.KindAnthropic},
	}

	_, err := New(context.Background(), cfg,
		WithLLMProvider("primary", mockProvider("hi")),
		WithLLMProvider("backup", mockProvider("hi")),
	)
	if err == nil {
		t.Fatal("expected error for unsupported embeddings kind")
	}
	if !strings.Contains(err.Error(), "unsupported embeddings kind") {
		t.Errorf("err = %v", err)
	}
}

func TestHealthChecksRequireEnabledProvider(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.Providers[0].Enabled = &disabled
	cfg.Providers[1].Enabled = &disabled

	a, err := New(context.Background(), cfg,
		WithLLMProvider("primary", mockProvider("hi")),
		WithLLMProvider("backup", mockProvider("hi")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	checks := a.healthChecks()
	if len(checks) != 1 {
		t.Fatalf("got %d checks, want 1", len(checks))
	}
	if err := checks[0].Probe(context.Background()); err == nil {
		t.Error("providers probe passed with all providers disabled")
	}
}
