// Package conversation manages multi-turn chat state on top of the router.
//
// A [Manager] stores conversations in memory, appends user and assistant
// messages around each completion call, and keeps every history inside a
// fixed message window. Trimming preserves the leading system message and the
// most recent turns; no summarisation is attempted. Map access is guarded by
// a read-write mutex; serialising concurrent sends into the same conversation
// is the caller's responsibility.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/types"
)

// DefaultMaxMessages bounds a conversation history when the config does not.
const DefaultMaxMessages = 50

// ErrConversationNotFound is returned when an operation names an unknown
// conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// MessageMetadata records which backend produced an assistant message.
type MessageMetadata struct {
	Provider string
	Model    string
	Tokens   int

	// Sources lists document ids when the reply was grounded in retrieved
	// context. Empty for plain chat replies.
	Sources []string
}

// StoredMessage is one message in a conversation history.
type StoredMessage struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time

	// Metadata is set on assistant messages only.
	Metadata *MessageMetadata
}

// Conversation is a stored chat with its full (trimmed) history.
type Conversation struct {
	ID        string
	Title     string
	Messages  []StoredMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is one element of a streamed reply.
type Chunk struct {
	// Content is a piece of assistant output. Empty on the terminal chunk.
	Content string

	// Done marks the terminal chunk.
	Done bool

	// Message is the stored assistant message, set on the terminal chunk.
	Message *StoredMessage

	// Err reports a failure that occurred after partial output was
	// forwarded. Set only on the terminal chunk.
	Err error
}

// Router is the slice of the completion router the manager depends on.
type Router interface {
	Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error)
	Stream(ctx context.Context, messages []types.Message, opts router.Options) (<-chan types.StreamChunk, error)
}

// Config tunes a [Manager].
type Config struct {
	// MaxMessages bounds each history, system message included.
	// Default: [DefaultMaxMessages].
	MaxMessages int

	// SystemPrompt seeds every new conversation when non-empty.
	SystemPrompt string

	// Metrics receives the active-conversation gauge. Nil disables it.
	Metrics *observe.Metrics
}

// Manager stores conversations and drives completions over them.
type Manager struct {
	rt  Router
	cfg Config

	store *store
}

// NewManager builds a Manager over rt.
func NewManager(rt Router, cfg Config) *Manager {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	return &Manager{rt: rt, cfg: cfg, store: newStore()}
}

// Create starts a new conversation. id and title are optional; an empty id is
// replaced with a fresh UUID. Creating an id that already exists is an error.
func (m *Manager) Create(ctx context.Context, id, title string) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	conv := &Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.cfg.SystemPrompt != "" {
		conv.Messages = append(conv.Messages, StoredMessage{
			ID:        uuid.NewString(),
			Role:      types.RoleSystem,
			Content:   m.cfg.SystemPrompt,
			CreatedAt: now,
		})
	}
	if !m.store.add(conv) {
		return nil, fmt.Errorf("conversation %q already exists", id)
	}
	m.cfg.Metrics.AddActiveConversations(ctx, 1)
	return conv.clone(), nil
}

// SendMessage appends content as a user message, completes against the full
// history, appends the assistant reply, trims, and returns the stored
// assistant message.
func (m *Manager) SendMessage(ctx context.Context, id, content string, opts router.Options) (*StoredMessage, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.send")
	defer span.End()

	history, err := m.appendUser(id, content)
	if err != nil {
		return nil, err
	}

	res, err := m.rt.Complete(ctx, history, opts)
	if err != nil {
		return nil, err
	}

	msg := assistantMessage(res.Content, &MessageMetadata{
		Provider: res.Provider,
		Model:    res.Model,
		Tokens:   res.Usage.TotalTokens,
	})
	if err := m.appendAndTrim(id, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StreamMessage is SendMessage over a streamed completion. Content chunks are
// forwarded as they arrive; the terminal chunk finalises the history and
// carries the stored assistant message, annotated with the provider and model
// that served the stream (token counts are unavailable on the stream path).
// A failure after partial output keeps the partial content (it is stored) and
// sets Err on the terminal chunk.
func (m *Manager) StreamMessage(ctx context.Context, id, content string, opts router.Options) (<-chan Chunk, error) {
	history, err := m.appendUser(id, content)
	if err != nil {
		return nil, err
	}

	src, err := m.rt.Stream(ctx, history, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		var accumulated string
		for chunk := range src {
			if chunk.Done {
				var meta *MessageMetadata
				if chunk.Provider != "" || chunk.Model != "" {
					meta = &MessageMetadata{Provider: chunk.Provider, Model: chunk.Model}
				}
				msg := assistantMessage(accumulated, meta)
				terminal := Chunk{Done: true, Err: chunk.Err}
				if err := m.appendAndTrim(id, msg); err != nil && terminal.Err == nil {
					terminal.Err = err
				} else {
					terminal.Message = &msg
				}
				select {
				case out <- terminal:
				case <-ctx.Done():
				}
				return
			}
			accumulated += chunk.Content
			select {
			case out <- Chunk{Content: chunk.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Get returns a copy of the named conversation.
func (m *Manager) Get(id string) (*Conversation, error) {
	conv, ok := m.store.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	return conv, nil
}

// GetAll returns copies of every conversation, most recently updated first.
func (m *Manager) GetAll() []*Conversation {
	return m.store.all()
}

// Delete removes the named conversation.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if !m.store.remove(id) {
		return fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	m.cfg.Metrics.AddActiveConversations(ctx, -1)
	return nil
}

// appendUser records the user message and returns the full untrimmed history
// as router messages. Trimming happens only after the assistant reply lands,
// so the completion call always sees the turn that may later fall out of the
// window.
func (m *Manager) appendUser(id, content string) ([]types.Message, error) {
	msg := StoredMessage{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	history, ok := m.store.append(id, msg)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	return history, nil
}

// appendAndTrim records an assistant message and trims the history.
func (m *Manager) appendAndTrim(id string, msg StoredMessage) error {
	if !m.store.appendTrimmed(id, msg, m.cfg.MaxMessages) {
		return fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	return nil
}

func assistantMessage(content string, meta *MessageMetadata) StoredMessage {
	return StoredMessage{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  meta,
	}
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Messages = make([]StoredMessage, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}
