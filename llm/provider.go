// Package llm defines the model-call contract the turn loop is written
// against, plus one Provider implementation per backing API.
//
// Information Hiding:
// - Wire format for each provider's Messages/Chat Completions API
// - Authentication and transport details
// - Content-block <-> provider-native format conversion
package llm

import (
	"context"
	"encoding/json"

	"github.com/komatachi/komatachi/message"
)

// StopReason is why a model call stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolSpec is a tool's wire-form definition, as passed to a model call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// TokenUsage reports token accounting for a single model call, when the
// provider makes it available.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is everything the turn loop hands to a model call: the system
// prompt, a freshly copied message vector, the tool set in wire form
// (nil when empty), and the max_tokens budget.
type Request struct {
	Model     string
	System    string
	Messages  []message.Message
	Tools     []ToolSpec
	MaxTokens int
}

// Response is what a model call returns: the assistant's content blocks
// and why it stopped.
type Response struct {
	Content    []message.ContentBlock
	StopReason StopReason
	Usage      *TokenUsage
}

// Provider is the model-call contract every backing API implements.
// Errors from Call always propagate to the caller as-is; the turn loop
// is responsible for wrapping them as ModelCallError.
type Provider interface {
	Name() string
	Model() string
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to the Provider interface, for tests and
// for injecting the model function the turn loop calls per spec's
// "injected model function" contract.
type Func struct {
	FuncName  string
	FuncModel string
	CallFunc  func(ctx context.Context, req Request) (Response, error)
}

func (f Func) Name() string  { return f.FuncName }
func (f Func) Model() string { return f.FuncModel }
func (f Func) Call(ctx context.Context, req Request) (Response, error) {
	return f.CallFunc(ctx, req)
}

var _ Provider = Func{}
