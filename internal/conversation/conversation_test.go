package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/patchwell/relai/internal/router"
	"github.com/patchwell/relai/pkg/types"
)

// fakeRouter implements Router with canned results and records the histories
// it was called with.
type fakeRouter struct {
	result       *types.CompletionResult
	err          error
	streamChunks []types.StreamChunk
	streamErr    error
	calls        [][]types.Message
}

func (f *fakeRouter) Complete(ctx context.Context, messages []types.Message, opts router.Options) (*types.CompletionResult, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRouter) Stream(ctx context.Context, messages []types.Message, opts router.Options) (<-chan types.StreamChunk, error) {
	f.calls = append(f.calls, messages)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan types.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func terseRouter() *fakeRouter {
	return &fakeRouter{
		result: &types.CompletionResult{
			Content:  "4",
			Provider: "mock",
			Model:    "test-model",
			Usage:    types.Usage{PromptTokens: 20, CompletionTokens: 1, TotalTokens: 21},
		},
	}
}

func TestCreateSeedsSystemPrompt(t *testing.T) {
	m := NewManager(terseRouter(), Config{SystemPrompt: "You are a terse assistant."})

	conv, err := m.Create(context.Background(), "", "math chat")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID == "" {
		t.Error("conversation id not assigned")
	}
	if conv.Title != "math chat" {
		t.Errorf("title = %q", conv.Title)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != types.RoleSystem {
		t.Fatalf("messages = %+v, want a single system message", conv.Messages)
	}
	if conv.Messages[0].Content != "You are a terse assistant." {
		t.Errorf("system content = %q", conv.Messages[0].Content)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	m := NewManager(terseRouter(), Config{})
	if _, err := m.Create(context.Background(), "conv-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "conv-1", ""); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestSendMessage(t *testing.T) {
	rt := terseRouter()
	m := NewManager(rt, Config{SystemPrompt: "You are a terse assistant."})

	conv, err := m.Create(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg, err := m.SendMessage(context.Background(), conv.ID, "What is 2+2?", router.Options{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Role != types.RoleAssistant || msg.Content != "4" {
		t.Errorf("assistant message = %+v", msg)
	}
	if msg.Metadata == nil || msg.Metadata.Provider != "mock" || msg.Metadata.Model != "test-model" || msg.Metadata.Tokens != 21 {
		t.Errorf("metadata = %+v", msg.Metadata)
	}

	// The router must have seen system + user, in order.
	if len(rt.calls) != 1 {
		t.Fatalf("router calls = %d, want 1", len(rt.calls))
	}
	history := rt.calls[0]
	if len(history) != 2 {
		t.Fatalf("history = %+v, want [system, user]", history)
	}
	if history[0].Role != types.RoleSystem || history[1].Role != types.RoleUser || history[1].Content != "What is 2+2?" {
		t.Errorf("history = %+v", history)
	}

	got, err := m.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Errorf("stored messages = %d, want 3 (system, user, assistant)", len(got.Messages))
	}
	if !got.UpdatedAt.After(conv.UpdatedAt) && !got.UpdatedAt.Equal(conv.UpdatedAt) {
		t.Errorf("UpdatedAt not touched: %v vs %v", got.UpdatedAt, conv.UpdatedAt)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	m := NewManager(terseRouter(), Config{})
	_, err := m.SendMessage(context.Background(), "missing", "hi", router.Options{})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestSendMessageRouterError(t *testing.T) {
	boom := errors.New("all providers failed")
	m := NewManager(&fakeRouter{err: boom}, Config{})
	conv, _ := m.Create(context.Background(), "", "")

	if _, err := m.SendMessage(context.Background(), conv.ID, "hi", router.Options{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestStreamMessage(t *testing.T) {
	rt := terseRouter()
	rt.streamChunks = []types.StreamChunk{
		{Content: "the answer "},
		{Content: "is 4"},
		{Done: true, Provider: "mock", Model: "test-model"},
	}
	m := NewManager(rt, Config{})
	conv, _ := m.Create(context.Background(), "", "")

	ch, err := m.StreamMessage(context.Background(), conv.ID, "What is 2+2?", router.Options{})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	var content string
	var terminals int
	var final *StoredMessage
	for chunk := range ch {
		if chunk.Done {
			terminals++
			final = chunk.Message
			if chunk.Err != nil {
				t.Errorf("terminal err = %v", chunk.Err)
			}
			continue
		}
		content += chunk.Content
	}
	if content != "the answer is 4" {
		t.Errorf("streamed content = %q", content)
	}
	if terminals != 1 {
		t.Errorf("terminal chunks = %d, want 1", terminals)
	}
	if final == nil || final.Content != "the answer is 4" || final.Role != types.RoleAssistant {
		t.Errorf("final message = %+v", final)
	}
	if final.Metadata == nil || final.Metadata.Provider != "mock" || final.Metadata.Model != "test-model" {
		t.Errorf("final metadata = %+v, want provider/model from the stream", final.Metadata)
	}

	got, err := m.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("stored messages = %d, want 2 (user, assistant)", len(got.Messages))
	}
	if got.Messages[1].Content != "the answer is 4" {
		t.Errorf("stored assistant content = %q", got.Messages[1].Content)
	}
}

func TestStreamMessagePartialFailureKeepsContent(t *testing.T) {
	rt := terseRouter()
	rt.streamChunks = []types.StreamChunk{
		{Content: "partial"},
		{Done: true, Err: errors.New("connection reset")},
	}
	m := NewManager(rt, Config{})
	conv, _ := m.Create(context.Background(), "", "")

	ch, err := m.StreamMessage(context.Background(), conv.ID, "hi", router.Options{})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	var terminalErr error
	for chunk := range ch {
		if chunk.Done {
			terminalErr = chunk.Err
		}
	}
	if terminalErr == nil {
		t.Error("terminal err not propagated")
	}

	got, _ := m.Get(conv.ID)
	last := got.Messages[len(got.Messages)-1]
	if last.Role != types.RoleAssistant || last.Content != "partial" {
		t.Errorf("partial content not stored: %+v", last)
	}
}

func TestSendMessageForwardsUntrimmedHistory(t *testing.T) {
	rt := terseRouter()
	m := NewManager(rt, Config{SystemPrompt: "system", MaxMessages: 4})
	conv, _ := m.Create(context.Background(), "", "")

	for i := 0; i < 3; i++ {
		if _, err := m.SendMessage(context.Background(), conv.ID, fmt.Sprintf("message %d", i), router.Options{}); err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
	}

	// Before the third send the history sits at the window limit (4). The
	// user append pushes it to 5, and all 5 must reach the router; the window
	// is applied only after the assistant reply lands.
	last := rt.calls[len(rt.calls)-1]
	if len(last) != 5 {
		t.Fatalf("router saw %d messages, want the full untrimmed 5", len(last))
	}
	if last[0].Role != types.RoleSystem {
		t.Errorf("first forwarded message role = %q, want system", last[0].Role)
	}

	got, err := m.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 4 {
		t.Errorf("stored messages = %d, want trimmed to 4", len(got.Messages))
	}
}

func TestTrimKeepsSystemAndRecent(t *testing.T) {
	rt := terseRouter()
	m := NewManager(rt, Config{SystemPrompt: "system", MaxMessages: 5})
	conv, _ := m.Create(context.Background(), "", "")

	for i := 0; i < 6; i++ {
		if _, err := m.SendMessage(context.Background(), conv.ID, fmt.Sprintf("message %d", i), router.Options{}); err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
	}

	got, err := m.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) > 5 {
		t.Fatalf("messages = %d, exceeds max of 5", len(got.Messages))
	}
	if got.Messages[0].Role != types.RoleSystem {
		t.Errorf("first message role = %q, system message lost", got.Messages[0].Role)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != types.RoleAssistant {
		t.Errorf("last message role = %q, want assistant", last.Role)
	}
	// The most recent user turn must survive the window.
	var sawRecent bool
	for _, msg := range got.Messages {
		if msg.Content == "message 5" {
			sawRecent = true
		}
	}
	if !sawRecent {
		t.Error("most recent user message was trimmed")
	}
}

func TestDeleteAndGetAll(t *testing.T) {
	m := NewManager(terseRouter(), Config{})
	ctx := context.Background()

	first, _ := m.Create(ctx, "first", "")
	time.Sleep(time.Millisecond)
	if _, err := m.Create(ctx, "second", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all := m.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll = %d conversations, want 2", len(all))
	}

	if err := m.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, first.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("second delete err = %v, want ErrConversationNotFound", err)
	}
	if _, err := m.Get(first.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Get after delete err = %v, want ErrConversationNotFound", err)
	}
	if got := m.GetAll(); len(got) != 1 || got[0].ID != "second" {
		t.Errorf("GetAll after delete = %+v", got)
	}
}
