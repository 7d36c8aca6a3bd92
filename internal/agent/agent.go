// Package agent implements a bounded tool-using reasoning loop on top of the
// router.
//
// An [Agent] receives a task, lets the model alternate between tool
// invocations and reasoning, and returns a final answer together with the
// full step trace. Tool calls travel over a plain-text protocol: the model
// answers with a fenced JSON block that is either a "final" answer or an
// "action" naming a registered [Tool]. Tool output is fed back as a synthetic
// user message so any chat-completion backend can drive the loop, whether or
// not it supports native function calling.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/types"
)

const (
	// DefaultMaxIterations bounds the reasoning loop when the config does not.
	DefaultMaxIterations = 10

	// exhaustedAnswer is returned when the loop hits its iteration ceiling
	// without the model producing a final answer. The partial step trace is
	// still returned so callers can inspect what happened.
	exhaustedAnswer = "I was unable to complete the task within the allowed number of reasoning steps. The partial results gathered so far are available in the step trace."
)

// Action is a tool invocation requested by the model.
type Action struct {
	// Tool is the registered tool name.
	Tool string

	// Input is the input string handed to the tool.
	Input string
}

// Step records one iteration of the reasoning loop.
type Step struct {
	// Thought is the model's stated reasoning for this step, when given.
	Thought string

	// Action is set when the step invoked (or attempted to invoke) a tool.
	Action *Action

	// Observation is the tool output or the error text fed back to the model.
	Observation string

	// IsFinal marks the step that produced the final answer.
	IsFinal bool
}

// ToolCall records one successful tool execution.
type ToolCall struct {
	Tool   string
	Input  string
	Output string
}

// Result is the outcome of one agent run.
type Result struct {
	// Answer is the final answer text. Always set; an exhausted run carries
	// a fixed fallback answer rather than an error.
	Answer string

	// Steps is the full reasoning trace, at most MaxIterations entries.
	Steps []Step

	// ToolCalls lists the tools that executed successfully, in order.
	ToolCalls []ToolCall
}

// Completer is the slice of the router the agent depends on.
type Completer interface {
	Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error)
}

// Config tunes an [Agent].
type Config struct {
	// MaxIterations bounds the reasoning loop. Default: [DefaultMaxIterations].
	MaxIterations int

	// Temperature is passed on every completion call. Zero means the
	// backend default.
	Temperature float64

	// SystemPrompt overrides the built-in instruction template. The tool
	// list is appended either way.
	SystemPrompt string

	// Metrics receives tool-call and iteration instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

// Agent runs bounded tool-using loops against a [Completer].
//
// Run is safe to call concurrently. Add/Remove mutate the shared registry
// and take effect for subsequent resolutions, including those of in-flight
// runs; coordinate registry changes with callers if that matters.
type Agent struct {
	completer Completer
	registry  *Registry
	cfg       Config
}

// New builds an Agent over completer with the given tools.
func New(completer Completer, cfg Config, tools ...Tool) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Agent{
		completer: completer,
		registry:  NewRegistry(tools...),
		cfg:       cfg,
	}
}

// AddTool registers or replaces a tool.
func (a *Agent) AddTool(t Tool) { a.registry.Add(t) }

// RemoveTool unregisters the named tool.
func (a *Agent) RemoveTool(name string) { a.registry.Remove(name) }

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []Tool { return a.registry.List() }

// Run executes the reasoning loop for task. It returns an error only when a
// completion call fails unrecoverably; tool failures, unknown tools, and
// malformed responses are handled inside the loop.
func (a *Agent) Run(ctx context.Context, task string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "agent.run")
	defer span.End()

	history := []types.Message{
		{Role: types.RoleSystem, Content: a.systemPrompt()},
		{Role: types.RoleUser, Content: task},
	}
	opts := router.Options{Temperature: a.cfg.Temperature}

	result := &Result{}
	defer func() {
		a.cfg.Metrics.RecordAgentIterations(ctx, len(result.Steps))
	}()

	for i := 0; i < a.cfg.MaxIterations; i++ {
		res, err := a.completer.Complete(ctx, history, opts)
		if err != nil {
			return nil, fmt.Errorf("agent: completion on step %d: %w", i+1, err)
		}

		p := parseResponse(res.Content)
		switch p.kind {
		case kindFinal:
			result.Steps = append(result.Steps, Step{Thought: p.thought, IsFinal: true})
			result.Answer = p.answer
			return result, nil

		case kindPlaintext:
			// Lenient fallback: a response without the expected JSON shape
			// is taken as the final answer.
			result.Steps = append(result.Steps, Step{IsFinal: true})
			result.Answer = p.answer
			return result, nil

		case kindAction:
			step := Step{
				Thought: p.thought,
				Action:  &Action{Tool: p.tool, Input: p.input},
			}
			step.Observation = a.executeAction(ctx, p.tool, p.input, result)
			result.Steps = append(result.Steps, step)

			history = append(history,
				types.Message{Role: types.RoleAssistant, Content: res.Content},
				types.Message{Role: types.RoleUser, Content: "Observation: " + step.Observation},
			)
		}
	}

	observe.Logger(ctx).Warn("agent run exhausted iteration budget",
		"max_iterations", a.cfg.MaxIterations,
		"tool_calls", len(result.ToolCalls))
	result.Answer = exhaustedAnswer
	return result, nil
}

// executeAction resolves and runs one tool call, returning the observation
// text. Successful calls are appended to result.ToolCalls.
func (a *Agent) executeAction(ctx context.Context, name, input string, result *Result) string {
	tool, ok := a.registry.Get(name)
	if !ok {
		a.cfg.Metrics.RecordToolCall(ctx, name, "unknown")
		obs := fmt.Sprintf("Error: unknown tool %q.", name)
		if suggestion := a.registry.Suggest(name); suggestion != "" {
			obs += fmt.Sprintf(" Did you mean %q?", suggestion)
		} else if tools := a.registry.List(); len(tools) > 0 {
			names := make([]string, len(tools))
			for i, t := range tools {
				names[i] = t.Name
			}
			obs += " Available tools: " + strings.Join(names, ", ") + "."
		}
		return obs
	}

	start := time.Now()
	output, err := tool.Execute(ctx, input)
	a.cfg.Metrics.RecordToolExecutionDuration(ctx, name, time.Since(start).Seconds())
	if err != nil {
		a.cfg.Metrics.RecordToolCall(ctx, name, "error")
		observe.Logger(ctx).Warn("tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: tool %q failed: %v", name, err)
	}
	a.cfg.Metrics.RecordToolCall(ctx, name, "ok")
	result.ToolCalls = append(result.ToolCalls, ToolCall{Tool: name, Input: input, Output: output})
	return output
}

// systemPrompt renders the loop instructions plus the current tool list.
func (a *Agent) systemPrompt() string {
	var b strings.Builder
	if a.cfg.SystemPrompt != "" {
		b.WriteString(a.cfg.SystemPrompt)
	} else {
		b.WriteString(defaultInstructions)
	}

	tools := a.registry.List()
	if len(tools) == 0 {
		b.WriteString("\n\nNo tools are available. Answer directly with a final response.")
		return b.String()
	}

	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		if t.Parameters != "" {
			fmt.Fprintf(&b, " (parameters: %s)", t.Parameters)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const defaultInstructions = `You are a capable assistant that solves tasks step by step, using tools when they help.

Respond with exactly one fenced JSON block per message.

To call a tool:
` + "```json" + `
{"type": "action", "thought": "<why this tool>", "tool": "<tool name>", "input": <tool input>}
` + "```" + `

When you know the answer:
` + "```json" + `
{"type": "final", "thought": "<summary of reasoning>", "answer": "<the answer>"}
` + "```" + `

After each action you will receive an observation with the tool output. Use it to decide your next step.`
