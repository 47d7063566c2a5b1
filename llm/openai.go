// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/komatachi/komatachi/message"
)

// OpenAIProvider implements Provider against the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// Call sends req to the OpenAI Chat Completions API and maps the
// response back onto the tagged content-block shape the turn loop
// operates on.
func (p *OpenAIProvider) Call(ctx context.Context, req Request) (Response, error) {
	ccReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  convertMessagesOpenAI(req.System, req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		ccReq.Tools = convertToolsOpenAI(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, ccReq)
	if err != nil {
		return Response{}, fmt.Errorf("openai: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai: chat completion returned no choices")
	}
	choice := resp.Choices[0]

	var blocks []message.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, message.NewText(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, message.NewToolUse(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	return Response{
		Content:    blocks,
		StopReason: mapOpenAIFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
		Usage:      usageFrom(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func mapOpenAIFinishReason(reason openai.FinishReason, hasToolCalls bool) StopReason {
	if hasToolCalls || reason == openai.FinishReasonToolCalls || reason == openai.FinishReasonFunctionCall {
		return StopToolUse
	}
	if reason == openai.FinishReasonLength {
		return StopMaxTokens
	}
	return StopEndTurn
}

// convertMessagesOpenAI flattens our role/content-block model onto
// OpenAI's one-message-per-role-turn wire format: a tool_result block
// becomes its own role="tool" message, since the API does not accept a
// bundle of results in one message the way our transcript does.
func convertMessagesOpenAI(system string, msgs []message.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == message.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		if m.IsPlainText() {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
			continue
		}

		var text string
		var toolCalls []openai.ToolCall
		var toolResults []openai.ChatCompletionMessage
		for _, b := range m.Blocks {
			switch b.Kind {
			case message.BlockText:
				text += b.Text
			case message.BlockToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolUseName,
						Arguments: string(b.ToolUseInput),
					},
				})
			case message.BlockToolResult:
				toolResults = append(toolResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.ToolResultContent.String(),
					ToolCallID: b.ToolResultToolUseID,
				})
			}
		}

		if text != "" || len(toolCalls) > 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: toolCalls})
		}
		out = append(out, toolResults...)
	}
	return out
}

func convertToolsOpenAI(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.InputSchema, &params)
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

var _ Provider = (*OpenAIProvider)(nil)
