package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/types"
)

// scriptedCompleter returns canned responses in order and records every
// message history it was called with.
type scriptedCompleter struct {
	responses []string
	err       error
	calls     [][]types.Message
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &types.CompletionResult{Content: `{"type": "final", "answer": "out of script"}`}, nil
	}
	content := s.responses[0]
	s.responses = s.responses[1:]
	return &types.CompletionResult{Content: content}, nil
}

func calculatorTool(t *testing.T) Tool {
	t.Helper()
	return Tool{
		Name:        "calculator",
		Description: "Evaluates arithmetic expressions.",
		Execute: func(ctx context.Context, input string) (string, error) {
			if input != "12*7" {
				t.Errorf("calculator input = %q, want %q", input, "12*7")
			}
			return "84", nil
		},
	}
}

func TestRunFinalAnswer(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		"```json\n{\"type\": \"final\", \"thought\": \"trivial\", \"answer\": \"Paris\"}\n```",
	}}
	a := New(c, Config{})

	res, err := a.Run(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "Paris" {
		t.Errorf("answer = %q, want %q", res.Answer, "Paris")
	}
	if len(res.Steps) != 1 || !res.Steps[0].IsFinal {
		t.Errorf("steps = %+v, want one final step", res.Steps)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, want 0", len(res.ToolCalls))
	}
}

func TestRunToolScenario(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		"```json\n{\"type\": \"action\", \"thought\": \"need math\", \"tool\": \"calculator\", \"input\": \"12*7\"}\n```",
		"```json\n{\"type\": \"final\", \"answer\": \"12 * 7 = 84\"}\n```",
	}}
	a := New(c, Config{}, calculatorTool(t))

	res, err := a.Run(context.Background(), "What is 12 * 7?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "12 * 7 = 84" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(res.Steps))
	}
	if res.Steps[0].Observation != "84" {
		t.Errorf("observation = %q, want %q", res.Steps[0].Observation, "84")
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.Tool != "calculator" || tc.Input != "12*7" || tc.Output != "84" {
		t.Errorf("tool call = %+v", tc)
	}

	// The second completion must see the assistant response and the
	// observation as a synthetic user message.
	if len(c.calls) != 2 {
		t.Fatalf("completions = %d, want 2", len(c.calls))
	}
	second := c.calls[1]
	last := second[len(second)-1]
	if last.Role != types.RoleUser || last.Content != "Observation: 84" {
		t.Errorf("observation message = %+v", last)
	}
}

func TestRunPlaintextFallback(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"The answer is 4."}}
	a := New(c, Config{})

	res, err := a.Run(context.Background(), "2+2?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "The answer is 4." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Steps) != 1 || !res.Steps[0].IsFinal {
		t.Errorf("steps = %+v, want one final step", res.Steps)
	}
}

func TestRunUnknownToolSuggests(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		"```json\n{\"type\": \"action\", \"tool\": \"calculatr\", \"input\": \"12*7\"}\n```",
		"```json\n{\"type\": \"final\", \"answer\": \"done\"}\n```",
	}}
	a := New(c, Config{}, Tool{
		Name:        "calculator",
		Description: "math",
		Execute:     func(ctx context.Context, input string) (string, error) { return "84", nil },
	})

	res, err := a.Run(context.Background(), "compute")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	obs := res.Steps[0].Observation
	if !strings.Contains(obs, `unknown tool "calculatr"`) {
		t.Errorf("observation = %q, want unknown-tool error", obs)
	}
	if !strings.Contains(obs, `Did you mean "calculator"?`) {
		t.Errorf("observation = %q, want suggestion", obs)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, want 0 for unknown tool", len(res.ToolCalls))
	}
	if res.Answer != "done" {
		t.Errorf("answer = %q, loop should have continued", res.Answer)
	}
}

func TestRunToolErrorContained(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		"```json\n{\"type\": \"action\", \"tool\": \"flaky\", \"input\": \"x\"}\n```",
		"```json\n{\"type\": \"final\", \"answer\": \"recovered\"}\n```",
	}}
	a := New(c, Config{}, Tool{
		Name:        "flaky",
		Description: "always fails",
		Execute: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})

	res, err := a.Run(context.Background(), "try the tool")
	if err != nil {
		t.Fatalf("Run: %v (tool failures must not abort the run)", err)
	}
	if !strings.Contains(res.Steps[0].Observation, "backend unavailable") {
		t.Errorf("observation = %q, want tool error text", res.Steps[0].Observation)
	}
	if res.Answer != "recovered" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, failed executions must not be recorded", len(res.ToolCalls))
	}
}

func TestRunExhaustsIterations(t *testing.T) {
	action := "```json\n{\"type\": \"action\", \"tool\": \"noop\", \"input\": \"\"}\n```"
	c := &scriptedCompleter{responses: []string{action, action, action, action}}
	a := New(c, Config{MaxIterations: 3}, Tool{
		Name:        "noop",
		Description: "does nothing",
		Execute:     func(ctx context.Context, input string) (string, error) { return "ok", nil },
	})

	res, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run: %v (exhaustion is not an error)", err)
	}
	if len(res.Steps) != 3 {
		t.Errorf("steps = %d, want 3", len(res.Steps))
	}
	if res.Answer != exhaustedAnswer {
		t.Errorf("answer = %q, want the fixed exhaustion answer", res.Answer)
	}
	if len(res.ToolCalls) != 3 {
		t.Errorf("tool calls = %d, want 3", len(res.ToolCalls))
	}
}

func TestRunPropagatesCompletionError(t *testing.T) {
	boom := errors.New("all providers failed")
	c := &scriptedCompleter{err: boom}
	a := New(c, Config{})

	if _, err := a.Run(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSystemPromptListsTools(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{"type": "final", "answer": "ok"}`}}
	a := New(c, Config{},
		Tool{Name: "search", Description: "Searches documents.", Execute: noopExecute},
		Tool{Name: "calculator", Description: "Does math.", Parameters: `{"type":"string"}`, Execute: noopExecute},
	)

	if _, err := a.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	system := c.calls[0][0]
	if system.Role != types.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	for _, want := range []string{"calculator: Does math.", "search: Searches documents.", `{"type":"string"}`} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func noopExecute(ctx context.Context, input string) (string, error) { return "", nil }
