package conversation

import (
	"sort"
	"sync"

	"github.com/patchwell/relai/pkg/types"
)

// store is the mutex-guarded conversation map. All returned values are
// copies; callers never share slices with the store.
type store struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func newStore() *store {
	return &store{convs: make(map[string]*Conversation)}
}

// add inserts conv. Reports false when the id is taken.
func (s *store) add(conv *Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; exists {
		return false
	}
	s.convs[conv.ID] = conv
	return true
}

// append adds msg to the named conversation, touches UpdatedAt, and returns
// the resulting history as router messages. The history is not windowed here:
// the full list, including a turn that overflows the window, is what gets
// forwarded to the router. Reports false for an unknown id.
func (s *store) append(id string, msg StoredMessage) ([]types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, false
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt

	history := make([]types.Message, len(conv.Messages))
	for i, sm := range conv.Messages {
		history[i] = types.Message{Role: sm.Role, Content: sm.Content}
	}
	return history, true
}

// appendTrimmed adds msg, windows the history to maxMessages, and touches
// UpdatedAt. Used for the assistant append that completes a turn. Reports
// false for an unknown id.
func (s *store) appendTrimmed(id string, msg StoredMessage, maxMessages int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return false
	}
	conv.Messages = trim(append(conv.Messages, msg), maxMessages)
	conv.UpdatedAt = msg.CreatedAt
	return true
}

func (s *store) get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, false
	}
	return conv.clone(), true
}

func (s *store) all() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, conv.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *store) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	delete(s.convs, id)
	return true
}

// trim windows messages to maxMessages, preserving a leading system message
// and keeping the most recent of the rest.
func trim(messages []StoredMessage, maxMessages int) []StoredMessage {
	if len(messages) <= maxMessages {
		return messages
	}

	var system *StoredMessage
	rest := messages
	if messages[0].Role == types.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	keep := maxMessages
	if system != nil {
		keep--
	}
	if keep < 0 {
		keep = 0
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}

	if system == nil {
		return rest
	}
	out := make([]StoredMessage, 0, len(rest)+1)
	out = append(out, *system)
	return append(out, rest...)
}
