package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type panickingTool struct{}

func (panickingTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "panics", Description: "always panics"}
}
func (panickingTool) Validate(args json.RawMessage) error { return nil }
func (panickingTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	panic("deliberate failure")
}

type erroringTool struct{}

func (erroringTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "errors", Description: "always errors"}
}
func (erroringTool) Validate(args json.RawMessage) error { return nil }
func (erroringTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("boom")
}

type invalidArgsTool struct{}

func (invalidArgsTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "strict", Description: "rejects bad args"}
}
func (invalidArgsTool) Validate(args json.RawMessage) error {
	return errors.New("missing required field")
}
func (invalidArgsTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return SuccessResult("should not be reached"), nil
}

func TestExecuteToolRecoversFromPanic(t *testing.T) {
	result, correlationID := ExecuteTool(context.Background(), panickingTool{}, json.RawMessage(`{}`))
	if result.Success() {
		t.Fatal("expected a failure result from a panicking tool")
	}
	if correlationID == "" {
		t.Error("expected a non-empty correlation ID")
	}
	if result.Error == nil {
		t.Fatal("expected a non-nil error")
	}
}

func TestExecuteToolPropagatesHandlerError(t *testing.T) {
	result, _ := ExecuteTool(context.Background(), erroringTool{}, json.RawMessage(`{}`))
	if result.Success() {
		t.Fatal("expected failure")
	}
}

func TestExecuteToolRunsValidateBeforeExecute(t *testing.T) {
	result, _ := ExecuteTool(context.Background(), invalidArgsTool{}, json.RawMessage(`{}`))
	if result.Success() {
		t.Fatal("expected validation failure to short-circuit execution")
	}
}

func TestExecuteToolEachCallGetsADistinctCorrelationID(t *testing.T) {
	_, id1 := ExecuteTool(context.Background(), erroringTool{}, json.RawMessage(`{}`))
	_, id2 := ExecuteTool(context.Background(), erroringTool{}, json.RawMessage(`{}`))
	if id1 == id2 {
		t.Error("expected distinct correlation IDs across calls")
	}
}
