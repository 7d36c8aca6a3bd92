package agent

import (
	"encoding/json"
	"strings"
)

// parseKind discriminates the shapes a model response can take.
type parseKind int

const (
	// kindPlaintext means the response carried no recognisable JSON block.
	// The raw text is treated as the final answer.
	kindPlaintext parseKind = iota

	// kindFinal is an explicit final answer.
	kindFinal

	// kindAction is a tool invocation request.
	kindAction
)

// parsed is the normalised form of one model response.
type parsed struct {
	kind    parseKind
	thought string
	answer  string // kindFinal and kindPlaintext
	tool    string // kindAction
	input   string // kindAction
}

// wireResponse mirrors the JSON document the system prompt instructs the
// model to emit.
type wireResponse struct {
	Type    string          `json:"type"`
	Thought string          `json:"thought"`
	Answer  string          `json:"answer"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input"`
}

// parseResponse interprets one raw model response. It looks for a fenced
// JSON block (or a bare JSON object spanning the whole response) and decodes
// it into a final answer or a tool action. Anything that does not decode
// cleanly degrades to plaintext rather than failing the run: models drift
// from the format often enough that a hard error would be worse than
// accepting the text as the answer.
func parseResponse(raw string) parsed {
	candidate, ok := extractJSON(raw)
	if !ok {
		return parsed{kind: kindPlaintext, answer: strings.TrimSpace(raw)}
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return parsed{kind: kindPlaintext, answer: strings.TrimSpace(raw)}
	}

	switch wire.Type {
	case "final":
		return parsed{kind: kindFinal, thought: wire.Thought, answer: wire.Answer}
	case "action":
		if wire.Tool == "" {
			return parsed{kind: kindPlaintext, answer: strings.TrimSpace(raw)}
		}
		return parsed{
			kind:    kindAction,
			thought: wire.Thought,
			tool:    wire.Tool,
			input:   normalizeInput(wire.Input),
		}
	}

	// Models regularly drop the type tag while keeping the rest of the shape.
	// Field presence still discriminates: an answer means final, a tool means
	// action.
	if wire.Answer != "" {
		return parsed{kind: kindFinal, thought: wire.Thought, answer: wire.Answer}
	}
	if wire.Tool != "" {
		return parsed{
			kind:    kindAction,
			thought: wire.Thought,
			tool:    wire.Tool,
			input:   normalizeInput(wire.Input),
		}
	}
	return parsed{kind: kindPlaintext, answer: strings.TrimSpace(raw)}
}

// extractJSON pulls the JSON document out of raw. It prefers a fenced block
// (```json ... ``` or a bare fence) and falls back to the whole response when
// it is itself a JSON object.
func extractJSON(raw string) (string, bool) {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(raw, fence)
		if start < 0 {
			continue
		}
		rest := raw[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		body := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(body, "{") {
			return body, true
		}
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, true
	}
	return "", false
}

// normalizeInput renders a tool input as the string handed to Tool.Execute.
// JSON strings are unquoted; any other JSON value is passed through compact.
func normalizeInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
