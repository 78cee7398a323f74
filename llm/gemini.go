package llm

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API. Gemini does not
// identify function calls, so the gateway assigns ids to them.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client, model: client.GenerativeModel(model)}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	history := toGeminiContents(toMessages(req.Turns))
	if len(history) == 0 {
		return nil, errors.New("nothing to send to Gemini")
	}
	g.model.SetTemperature(float32(req.Temperature))
	g.model.Tools = toGeminiTools(req.Tools)
	g.model.SystemInstruction = nil
	if req.System != "" {
		g.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	last := history[len(history)-1]
	chat := g.model.StartChat()
	chat.History = history[:len(history)-1]
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return fromGemini(resp)
}

// toGeminiContents converts messages and merges consecutive messages of the
// same role, since Gemini expects user and model turns to alternate.
func toGeminiContents(messages []message) []*genai.Content {
	var out []*genai.Content
	add := func(role string, parts ...genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	for _, m := range messages {
		switch m.role {
		case session.RoleAssistant:
			var parts []genai.Part
			if m.text != "" {
				parts = append(parts, genai.Text(m.text))
			}
			for _, tc := range m.toolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) > 0 {
				add("model", parts...)
			}
		case session.RoleTool:
			add("user", genai.FunctionResponse{
				Name:     m.toolName,
				Response: map[string]any{"output": m.text, "failed": m.failed},
			})
		default:
			add("user", genai.Text(m.text))
		}
	}
	return out
}

func toGeminiTools(specs []tools.Spec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toGeminiSchema(schemaOrEmpty(s)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// toGeminiSchema maps the JSON Schema subset Gemini understands.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	if t, ok := schema["type"].(string); ok {
		if gt, ok := geminiTypes[t]; ok {
			out.Type = gt
		}
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	out.Required = requiredFields(schema)
	return out
}

func fromGemini(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}
	out := &Response{}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Text += string(v)
		case genai.FunctionCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{Name: v.Name, Args: args})
		}
	}
	return out, nil
}
