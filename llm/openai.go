package llm

import (
	"context"

	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Base URLs of the OpenAI-compatible providers.
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIClient talks to any OpenAI-compatible Chat Completions endpoint.
// Groq and OpenRouter are served by it with their own base URLs.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for apiKey. An empty baseURL uses the
// OpenAI default.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key for the OpenAI-compatible provider is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by the agent loop.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: model}, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    toOpenAIMessages(req.System, toMessages(req.Turns)),
		Tools:       toOpenAITools(req.Tools),
		Temperature: openai.Float(req.Temperature),
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "chat completion request failed")
	}
	return fromOpenAI(resp)
}

func fromOpenAI(resp *openai.ChatCompletion) (*Response, error) {
	if len(resp.Choices) == 0 {
		return &Response{}, nil
	}
	choice := resp.Choices[0].Message
	out := &Response{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		args, err := parseArgs(tc.Function.Arguments)
		if err != nil {
			return nil, &GatewayError{Kind: Fatal, Err: errors.Wrapf(err, "tool call %s", tc.Function.Name)}
		}
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out, nil
}

func toOpenAIMessages(system string, messages []message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.role {
		case session.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: "assistant", Content: m.text}
			for _, tc := range m.toolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: argsJSON(tc.Args),
					},
				})
			}
			out = append(out, msg.ToParam())
		case session.RoleTool:
			out = append(out, openai.ToolMessage(m.text, m.callID))
		default:
			out = append(out, openai.UserMessage(m.text))
		}
	}
	return out
}

func toOpenAITools(specs []tools.Spec) []openai.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.Parameters),
		}))
	}
	return out
}
