package agent

import "testing"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want parsed
	}{
		{
			name: "fenced final",
			raw:  "```json\n{\"type\": \"final\", \"thought\": \"done\", \"answer\": \"42\"}\n```",
			want: parsed{kind: kindFinal, thought: "done", answer: "42"},
		},
		{
			name: "fenced action with string input",
			raw:  "```json\n{\"type\": \"action\", \"tool\": \"calculator\", \"input\": \"12*7\"}\n```",
			want: parsed{kind: kindAction, tool: "calculator", input: "12*7"},
		},
		{
			name: "fenced action with object input",
			raw:  "```json\n{\"type\": \"action\", \"tool\": \"search\", \"input\": {\"query\":\"go\"}}\n```",
			want: parsed{kind: kindAction, tool: "search", input: `{"query":"go"}`},
		},
		{
			name: "bare fence without language tag",
			raw:  "```\n{\"type\": \"final\", \"answer\": \"yes\"}\n```",
			want: parsed{kind: kindFinal, answer: "yes"},
		},
		{
			name: "unfenced JSON object",
			raw:  `{"type": "action", "tool": "search", "input": "golang"}`,
			want: parsed{kind: kindAction, tool: "search", input: "golang"},
		},
		{
			name: "prose around the fence",
			raw:  "Let me think.\n```json\n{\"type\": \"final\", \"answer\": \"ok\"}\n```\nDone.",
			want: parsed{kind: kindFinal, answer: "ok"},
		},
		{
			name: "untagged final keyed on answer field",
			raw:  "```json\n{\"thought\": \"done\", \"answer\": \"84\"}\n```",
			want: parsed{kind: kindFinal, thought: "done", answer: "84"},
		},
		{
			name: "untagged action keyed on tool field",
			raw:  `{"thought": "multiply", "tool": "calculator", "input": "12*7"}`,
			want: parsed{kind: kindAction, thought: "multiply", tool: "calculator", input: "12*7"},
		},
		{
			name: "plain text",
			raw:  "The answer is 4.",
			want: parsed{kind: kindPlaintext, answer: "The answer is 4."},
		},
		{
			name: "invalid JSON in fence",
			raw:  "```json\n{not json}\n```",
			want: parsed{kind: kindPlaintext, answer: "```json\n{not json}\n```"},
		},
		{
			name: "unknown type",
			raw:  `{"type": "thinking", "thought": "hmm"}`,
			want: parsed{kind: kindPlaintext, answer: `{"type": "thinking", "thought": "hmm"}`},
		},
		{
			name: "action without tool name",
			raw:  `{"type": "action", "input": "x"}`,
			want: parsed{kind: kindPlaintext, answer: `{"type": "action", "input": "x"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseResponse(tt.raw)
			if got != tt.want {
				t.Errorf("parseResponse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRegistrySuggest(t *testing.T) {
	r := NewRegistry(
		Tool{Name: "calculator", Execute: noopExecute},
		Tool{Name: "web_search", Execute: noopExecute},
	)

	if got := r.Suggest("calculatr"); got != "calculator" {
		t.Errorf("Suggest(calculatr) = %q, want calculator", got)
	}
	if got := r.Suggest("zzzzz"); got != "" {
		t.Errorf("Suggest(zzzzz) = %q, want no suggestion", got)
	}
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(Tool{Name: "a", Execute: noopExecute})
	r.Add(Tool{Name: "b", Execute: noopExecute})
	r.Remove("a")

	if _, ok := r.Get("a"); ok {
		t.Error("tool a still present after Remove")
	}
	list := r.List()
	if len(list) != 1 || list[0].Name != "b" {
		t.Errorf("List() = %+v", list)
	}
}
