package agent

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// Tool is a capability the agent can invoke during a run.
//
// Execute receives the input string produced by the model (for structured
// tools this is a JSON document) and returns the observation text fed back
// into the loop. Implementations must be safe for concurrent use and must
// respect context cancellation.
type Tool struct {
	// Name uniquely identifies the tool within a registry. The model refers
	// to tools by this name.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters is an optional JSON Schema describing the expected input.
	// Rendered into the system prompt verbatim when present.
	Parameters string

	// Execute runs the tool.
	Execute func(ctx context.Context, input string) (string, error)
}

// suggestionThreshold is the minimum Jaro-Winkler similarity for a
// "did you mean" hint on an unknown tool name.
const suggestionThreshold = 0.8

// Registry holds the tools available to an agent, keyed by name.
// It is safe for concurrent use; mutating it while a run is in flight
// affects which tools that run can resolve.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a Registry pre-populated with the given tools.
// Later tools replace earlier ones with the same name.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return r
}

// Add registers or replaces a tool.
func (r *Registry) Add(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Remove unregisters the named tool. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Suggest returns the registered tool name most similar to name, or "" when
// nothing scores above the similarity threshold. Used to build helpful
// observations when the model hallucinates a tool name.
func (r *Registry) Suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	bestScore := suggestionThreshold
	lower := strings.ToLower(name)
	for candidate := range r.tools {
		score := matchr.JaroWinkler(lower, strings.ToLower(candidate), false)
		if score >= bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}
