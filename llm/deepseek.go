// DeepSeek Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API with a different base URL
// - Supports deepseek-chat and deepseek-reasoner models

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/komatachi/komatachi/message"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements Provider against DeepSeek's OpenAI-compatible API.
type DeepSeekProvider struct {
	client *openai.Client
	model  string
}

// NewDeepSeekProvider creates a new DeepSeek provider.
func NewDeepSeekProvider(apiKey, model string) *DeepSeekProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL
	return &DeepSeekProvider{client: openai.NewClientWithConfig(config), model: model}
}

func (p *DeepSeekProvider) Name() string  { return "deepseek" }
func (p *DeepSeekProvider) Model() string { return p.model }

// Call sends req to DeepSeek's chat completions endpoint, reusing the
// same message and tool conversion OpenAIProvider uses since the wire
// format is OpenAI-compatible.
func (p *DeepSeekProvider) Call(ctx context.Context, req Request) (Response, error) {
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
		return Response{}, fmt.Errorf("deepseek: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("deepseek: chat completion returned no choices")
	}
	choice := resp.Choices[0]

	var blocks []message.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, message.NewText(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, message.NewToolUse(tc.ID, tc.Function.Name, []byte(tc.Function.Arguments)))
	}

	return Response{
		Content:    blocks,
		StopReason: mapOpenAIFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
		Usage:      usageFrom(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

var _ Provider = (*DeepSeekProvider)(nil)
