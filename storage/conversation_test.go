package storage

import (
	"errors"
	"testing"

	"github.com/komatachi/komatachi/internal/logging"
	"github.com/komatachi/komatachi/message"
)

func newConv(t *testing.T) (*Conversation, *FS) {
	t.Helper()
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return Open(fs, "conv-1", logging.NewNop()), fs
}

func TestConversationInitializeThenLoad(t *testing.T) {
	c, fs := newConv(t)
	model := "claude-opus-4-5-20251101"
	if err := c.Initialize(1000, &model); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	c2 := Open(fs, "conv-1", logging.NewNop())
	meta, msgs, err := c2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.CreatedAt != 1000 || meta.UpdatedAt != 1000 || meta.CompactionCount != 0 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.Model == nil || *meta.Model != model {
		t.Errorf("Model = %v, want %q", meta.Model, model)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty transcript, got %d messages", len(msgs))
	}
}

func TestConversationInitializeTwiceFailsAlreadyExists(t *testing.T) {
	c, _ := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := c.Initialize(2000, nil)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindAlreadyExists {
		t.Errorf("got %v, want KindAlreadyExists", err)
	}
}

func TestConversationAppendMessagePersistsAcrossReload(t *testing.T) {
	c, fs := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m1 := message.NewTextMessage(message.RoleUser, "hello")
	if err := c.AppendMessage(1001, m1); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	m2 := message.NewTextMessage(message.RoleAssistant, "hi there")
	if err := c.AppendMessage(1002, m2); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := c.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}

	meta, err := c.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.UpdatedAt != 1002 {
		t.Errorf("UpdatedAt = %d, want 1002", meta.UpdatedAt)
	}

	c2 := Open(fs, "conv-1", logging.NewNop())
	_, reloaded, err := c2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("reloaded len = %d, want 2", len(reloaded))
	}
	if reloaded[0].Text != "hello" || reloaded[1].Text != "hi there" {
		t.Errorf("unexpected reloaded messages: %+v", reloaded)
	}
}

func TestConversationGetMessagesReturnsDefensiveCopy(t *testing.T) {
	c, _ := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.AppendMessage(1001, message.NewTextMessage(message.RoleUser, "a")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := c.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	msgs[0].Text = "mutated"

	msgs2, err := c.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs2[0].Text != "a" {
		t.Errorf("internal history was mutated through returned slice: %q", msgs2[0].Text)
	}
}

func TestConversationReplaceTranscript(t *testing.T) {
	c, fs := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.AppendMessage(1001, message.NewTextMessage(message.RoleUser, "m")); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	summary := message.NewTextMessage(message.RoleUser, "compacted summary")
	if err := c.ReplaceTranscript(2000, []message.Message{summary}); err != nil {
		t.Fatalf("ReplaceTranscript: %v", err)
	}

	msgs, err := c.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "compacted summary" {
		t.Fatalf("unexpected transcript after replace: %+v", msgs)
	}

	c2 := Open(fs, "conv-1", logging.NewNop())
	meta, reloaded, err := c2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded) != 1 {
		t.Fatalf("reloaded len = %d, want 1", len(reloaded))
	}
	if meta.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt = %d, want 2000", meta.UpdatedAt)
	}
}

func TestConversationUpdateMetadataPatchesOnlyGivenFields(t *testing.T) {
	c, _ := newConv(t)
	model := "model-a"
	if err := c.Initialize(1000, &model); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	count := 3
	if err := c.UpdateMetadata(1500, MetadataPatch{CompactionCount: &count}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	meta, err := c.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.CompactionCount != 3 {
		t.Errorf("CompactionCount = %d, want 3", meta.CompactionCount)
	}
	if meta.Model == nil || *meta.Model != "model-a" {
		t.Errorf("Model should be unchanged, got %v", meta.Model)
	}
	if meta.CreatedAt != 1000 {
		t.Errorf("CreatedAt should never change, got %d", meta.CreatedAt)
	}
	if meta.UpdatedAt != 1500 {
		t.Errorf("UpdatedAt = %d, want 1500", meta.UpdatedAt)
	}
}

func TestConversationLoadRepairsUnpairedToolUseAtTail(t *testing.T) {
	c, fs := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.AppendMessage(1001, message.NewTextMessage(message.RoleUser, "run the tool")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	dangling := message.NewBlockMessage(message.RoleAssistant, []message.ContentBlock{
		message.NewToolUse("tu-1", "shell", []byte(`{"cmd":"ls"}`)),
	})
	if err := c.AppendMessage(1002, dangling); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	c2 := Open(fs, "conv-1", logging.NewNop())
	_, msgs, err := c2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1 (dangling tool_use message repaired away)", len(msgs))
	}
	if msgs[0].Text != "run the tool" {
		t.Errorf("unexpected surviving message: %+v", msgs[0])
	}
}

func TestConversationLoadKeepsPairedToolUse(t *testing.T) {
	c, fs := newConv(t)
	if err := c.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	call := message.NewBlockMessage(message.RoleAssistant, []message.ContentBlock{
		message.NewToolUse("tu-1", "shell", []byte(`{"cmd":"ls"}`)),
	})
	if err := c.AppendMessage(1001, call); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	result := message.NewBlockMessage(message.RoleUser, []message.ContentBlock{
		message.NewToolResult("tu-1", message.TextContent("file1\nfile2"), false),
	})
	if err := c.AppendMessage(1002, result); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	c2 := Open(fs, "conv-1", logging.NewNop())
	_, msgs, err := c2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (paired tool_use must survive)", len(msgs))
	}
}

func TestConversationMethodsFailBeforeLoadOrInitialize(t *testing.T) {
	c, _ := newConv(t)
	if _, err := c.GetMessages(); !errors.Is(err, ErrKind(KindNotLoaded)) {
		t.Errorf("GetMessages before load: got %v, want KindNotLoaded", err)
	}
	if err := c.AppendMessage(1000, message.NewTextMessage(message.RoleUser, "x")); !errors.Is(err, ErrKind(KindNotLoaded)) {
		t.Errorf("AppendMessage before load: got %v, want KindNotLoaded", err)
	}
}
