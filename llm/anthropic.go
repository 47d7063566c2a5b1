// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Non-streaming Messages API calls via official SDK

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/komatachi/komatachi/message"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicProvider{client: client, model: model}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// Call sends req to the Anthropic Messages API and maps the response
// back onto the tagged content-block shape the turn loop operates on.
func (p *AnthropicProvider) Call(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: message call failed: %w", err)
	}

	var blocks []message.ContentBlock
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, message.NewText(v.Text))
		case anthropic.ToolUseBlock:
			inputJSON, _ := json.Marshal(v.Input)
			blocks = append(blocks, message.NewToolUse(v.ID, v.Name, inputJSON))
		}
	}

	return Response{
		Content:    blocks,
		StopReason: mapStopReason(string(resp.StopReason)),
		Usage:      usageFrom(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)),
	}, nil
}

func mapStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func usageFrom(prompt, completion int) *TokenUsage {
	if prompt == 0 && completion == 0 {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// convertMessages maps message.Message onto Anthropic's MessageParam,
// expanding tool_use/tool_result blocks into their SDK param equivalents.
func convertMessages(msgs []message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		role := anthropic.MessageParamRoleUser
		if m.Role == message.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		if m.IsPlainText() {
			out = append(out, anthropic.MessageParam{
				Role:    role,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)},
			})
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, b := range m.Blocks {
			switch b.Kind {
			case message.BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case message.BlockToolUse:
				var input map[string]any
				_ = json.Unmarshal(b.ToolUseInput, &input)
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ToolUseID,
						Name:  b.ToolUseName,
						Input: input,
					},
				})
			case message.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(
					b.ToolResultToolUseID, b.ToolResultContent.String(), b.ToolResultIsError,
				))
			}
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: content})
	}
	return out
}

func convertTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		_ = json.Unmarshal(t.InputSchema, &schema)

		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return out
}

var _ Provider = (*AnthropicProvider)(nil)
