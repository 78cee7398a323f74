package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
)

const anthropicMaxTokens = 4096

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &AnthropicClient{client: &client, model: model}, nil
}

func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicMaxTokens,
		Messages:    toAnthropicMessages(toMessages(req.Turns)),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range toAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &t})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return fromAnthropic(resp)
}

func toAnthropicMessages(messages []message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.role {
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.text))
			}
			for _, tc := range m.toolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(argsJSON(tc.Args)),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
		case session.RoleTool:
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: m.callID,
						IsError:   anthropic.Bool(m.failed),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: m.text},
						}},
					},
				}},
			})
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.text)))
		}
	}
	return out
}

func toAnthropicTools(specs []tools.Spec) []anthropic.ToolParam {
	out := make([]anthropic.ToolParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: s.Parameters["properties"],
				Required:   requiredFields(s.Parameters),
			},
		})
	}
	return out
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fromAnthropic(resp *anthropic.Message) (*Response, error) {
	out := &Response{}
	for _, block := range resp.Content {
		switch c := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += c.Text
		case anthropic.ToolUseBlock:
			args, err := parseArgs(string(c.Input))
			if err != nil {
				return nil, &GatewayError{Kind: Fatal, Err: errors.Wrapf(err, "tool call %s", c.Name)}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: c.ID, Name: c.Name, Args: args})
		}
	}
	return out, nil
}
