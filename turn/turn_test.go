package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/komatachi/komatachi/internal/logging"
	"github.com/komatachi/komatachi/llm"
	"github.com/komatachi/komatachi/message"
	"github.com/komatachi/komatachi/storage"
	"github.com/komatachi/komatachi/tools"
)

type echoTool struct {
	calls int
	fail  bool
}

func (e *echoTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: "echo", Description: "echoes its input"}
}

func (e *echoTool) Validate(args json.RawMessage) error { return nil }

func (e *echoTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	e.calls++
	if e.fail {
		return tools.FailureResultf("echo failed"), nil
	}
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &in)
	return tools.SuccessResult("echo: " + in.Text), nil
}

func newTestLoop(t *testing.T, provider llm.Provider, registry *tools.Registry) (*Loop, *storage.Conversation) {
	t.Helper()
	fs, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	conv := storage.Open(fs, "conv-1", logging.NewNop())
	if err := conv.Initialize(1000, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := conv.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if registry == nil {
		registry = tools.NewRegistry()
	}

	return &Loop{
		Conv:          conv,
		Provider:      provider,
		Model:         "claude-opus-4-5-20251101",
		MaxTokens:     512,
		ContextWindow: 200000,
		HomeDir:       t.TempDir(),
		Registry:      registry,
		FileOps:       message.NewFileOperations(),
		Log:           logging.NewNop(),
		Now:           func() int64 { return 1000 },
	}, conv
}

func TestProcessTurnSingleTurnNoTools(t *testing.T) {
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{
				Content:    []message.ContentBlock{message.NewText("hello there")},
				StopReason: llm.StopEndTurn,
			}, nil
		},
	}

	loop, conv := newTestLoop(t, provider, nil)
	out, err := loop.ProcessTurn(context.Background(), "hi")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out != "hello there" {
		t.Errorf("output = %q", out)
	}

	msgs, err := conv.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages (user+assistant), got %d", len(msgs))
	}
	if msgs[0].Role != message.RoleUser || msgs[0].Text != "hi" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != message.RoleAssistant {
		t.Errorf("msgs[1].Role = %v", msgs[1].Role)
	}
}

func TestProcessTurnDispatchesToolsAndLoopsBack(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &echoTool{}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	callCount := 0
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			callCount++
			if callCount == 1 {
				return llm.Response{
					Content: []message.ContentBlock{
						message.NewToolUse("call-1", "echo", json.RawMessage(`{"text":"ping"}`)),
					},
					StopReason: llm.StopToolUse,
				}, nil
			}
			return llm.Response{
				Content:    []message.ContentBlock{message.NewText("done")},
				StopReason: llm.StopEndTurn,
			}, nil
		},
	}

	loop, conv := newTestLoop(t, provider, registry)
	out, err := loop.ProcessTurn(context.Background(), "go")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out != "done" {
		t.Errorf("output = %q", out)
	}
	if tool.calls != 1 {
		t.Errorf("tool.calls = %d, want 1", tool.calls)
	}

	msgs, err := conv.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	// user, assistant(tool_use), user(tool_result), assistant(final)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d: %+v", len(msgs), msgs)
	}
	resultBlocks := msgs[2].ToolResultBlocks()
	if len(resultBlocks) != 1 {
		t.Fatalf("expected 1 tool_result block, got %d", len(resultBlocks))
	}
	if resultBlocks[0].ToolResultIsError {
		t.Errorf("expected success, got error result: %+v", resultBlocks[0])
	}
	if !strings.Contains(resultBlocks[0].ToolResultContent.String(), "ping") {
		t.Errorf("tool result content = %q", resultBlocks[0].ToolResultContent.String())
	}
}

func TestProcessTurnMissingToolSynthesizesErrorResult(t *testing.T) {
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if len(req.Messages) > 0 && len(req.Messages[len(req.Messages)-1].ToolResultBlocks()) > 0 {
				return llm.Response{
					Content:    []message.ContentBlock{message.NewText("ok")},
					StopReason: llm.StopEndTurn,
				}, nil
			}
			return llm.Response{
				Content: []message.ContentBlock{
					message.NewToolUse("call-1", "does_not_exist", json.RawMessage(`{}`)),
				},
				StopReason: llm.StopToolUse,
			}, nil
		},
	}

	loop, conv := newTestLoop(t, provider, nil)
	if _, err := loop.ProcessTurn(context.Background(), "go"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	msgs, err := conv.GetMessages()
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	resultBlocks := msgs[2].ToolResultBlocks()
	if len(resultBlocks) != 1 || !resultBlocks[0].ToolResultIsError {
		t.Fatalf("expected a synthesized error result, got %+v", resultBlocks)
	}
	if !strings.Contains(resultBlocks[0].ToolResultContent.String(), "Tool not found: does_not_exist") {
		t.Errorf("content = %q", resultBlocks[0].ToolResultContent.String())
	}
}

func TestProcessTurnToolExecutionNeverPanics(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(panicTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	callCount := 0
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			callCount++
			if callCount == 1 {
				return llm.Response{
					Content:    []message.ContentBlock{message.NewToolUse("call-1", "panics", json.RawMessage(`{}`))},
					StopReason: llm.StopToolUse,
				}, nil
			}
			return llm.Response{
				Content:    []message.ContentBlock{message.NewText("recovered")},
				StopReason: llm.StopEndTurn,
			}, nil
		},
	}

	loop, _ := newTestLoop(t, provider, registry)
	out, err := loop.ProcessTurn(context.Background(), "go")
	if err != nil {
		t.Fatalf("ProcessTurn should survive a panicking tool, got: %v", err)
	}
	if out != "recovered" {
		t.Errorf("output = %q", out)
	}
}

type panicTool struct{}

func (panicTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: "panics", Description: "always panics"}
}
func (panicTool) Validate(args json.RawMessage) error { return nil }
func (panicTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	panic("boom")
}

func TestProcessTurnModelCallErrorWraps(t *testing.T) {
	wantErr := errors.New("network down")
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{}, wantErr
		},
	}

	loop, _ := newTestLoop(t, provider, nil)
	_, err := loop.ProcessTurn(context.Background(), "go")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrKind(KindModelCallError)) {
		t.Errorf("err = %v, want ModelCallError", err)
	}
}

func TestProcessTurnExceedingModelCallBudgetIsFatal(t *testing.T) {
	provider := llm.Func{
		FuncName:  "test",
		FuncModel: "claude-opus-4-5-20251101",
		CallFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{
				Content:    []message.ContentBlock{message.NewToolUse("call-1", "noop", json.RawMessage(`{}`))},
				StopReason: llm.StopToolUse,
			}, nil
		},
	}

	loop, _ := newTestLoop(t, provider, nil)
	_, err := loop.ProcessTurn(context.Background(), "go")
	if err == nil {
		t.Fatal("expected turn budget exhaustion")
	}
	if !errors.Is(err, ErrKind(KindTurnBudgetExhausted)) {
		t.Errorf("err = %v, want TurnBudgetExhausted", err)
	}
}
