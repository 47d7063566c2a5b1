// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/komatachi/komatachi/message"
)

// GeminiProvider implements Provider against the Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	initErr error // client initialization error, reported on first use
}

// NewGeminiProvider creates a new Gemini provider. If client
// initialization fails, the error is stored and returned on first use,
// preserving a simple constructor signature.
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiProvider{model: model, initErr: fmt.Errorf("failed to initialize gemini client: %w", err)}
	}
	return &GeminiProvider{client: client, model: model}
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

// Call sends req to the Gemini API and maps the response back onto the
// tagged content-block shape the turn loop operates on.
func (p *GeminiProvider) Call(ctx context.Context, req Request) (Response, error) {
	if p.initErr != nil {
		return Response{}, p.initErr
	}
	if p.client == nil {
		return Response{}, fmt.Errorf("gemini: client not initialized")
	}

	contents := convertMessagesGemini(req.Messages)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertToolsGemini(req.Tools)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: generate content failed: %w", err)
	}

	var blocks []message.ContentBlock
	var stop StopReason = StopEndTurn
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				blocks = append(blocks, message.NewText(part.Text))
			}
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				blocks = append(blocks, message.NewToolUse(part.FunctionCall.Name, part.FunctionCall.Name, argsJSON))
				stop = StopToolUse
			}
		}
	}

	var usage *TokenUsage
	if resp.UsageMetadata != nil {
		usage = usageFrom(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}

	return Response{Content: blocks, StopReason: stop, Usage: usage}, nil
}

// convertMessagesGemini maps message.Message onto Gemini's Content/Part
// shape. Gemini has no native tool_use id, so it identifies a function
// call by name; we mirror that by using the tool name as id on the
// decode side too.
func convertMessagesGemini(msgs []message.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == message.RoleAssistant {
			role = genai.RoleModel
		}

		if m.IsPlainText() {
			contents = append(contents, genai.NewContentFromText(m.Text, role))
			continue
		}

		content := &genai.Content{Role: string(role)}
		for _, b := range m.Blocks {
			switch b.Kind {
			case message.BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
			case message.BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(b.ToolUseInput, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.ToolUseName, Args: args},
				})
			case message.BlockToolResult:
				result := map[string]any{"result": b.ToolResultContent.String()}
				if b.ToolResultIsError {
					result = map[string]any{"error": b.ToolResultContent.String()}
				}
				content.Role = genai.RoleUser // Gemini expects function responses as user turns
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: b.ToolResultToolUseID, Response: result},
				})
			}
		}
		contents = append(contents, content)
	}
	return contents
}

func convertToolsGemini(tools []ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var declarations []*genai.FunctionDeclaration
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaGemini(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchemaGemini recursively converts a JSON Schema map to Gemini's
// Schema type, adding the 'items' field arrays require.
func convertSchemaGemini(params map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}

	if t, ok := params["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}
	if req, ok := params["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if req, ok := params["required"].([]string); ok {
		schema.Required = req
	}
	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				schema.Properties[name] = convertPropertySchemaGemini(propMap)
			}
		}
	}
	return schema
}

func convertPropertySchemaGemini(prop map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := prop["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}
	if d, ok := prop["description"].(string); ok {
		schema.Description = d
	}

	if schema.Type == genai.TypeArray {
		if items, ok := prop["items"].(map[string]interface{}); ok {
			schema.Items = convertPropertySchemaGemini(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	}

	if schema.Type == genai.TypeObject {
		if props, ok := prop["properties"].(map[string]interface{}); ok {
			schema.Properties = make(map[string]*genai.Schema)
			for name, p := range props {
				if pMap, ok := p.(map[string]interface{}); ok {
					schema.Properties[name] = convertPropertySchemaGemini(pMap)
				}
			}
		}
	}
	return schema
}

func mapToGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer", "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

var _ Provider = (*GeminiProvider)(nil)
