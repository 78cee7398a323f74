package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client  modelInvoker
	modelID string
}

// NewBedrockClient creates a client using the default AWS credential chain.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
	})
	return &BedrockClient{client: client, modelID: modelID}, nil
}

func (b *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

type bedrockBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

func convertMessagesToBedrock(messages []message) []bedrockMessage {
	var out []bedrockMessage
	for _, m := range messages {
		switch m.role {
		case session.RoleAssistant:
			var blocks []bedrockBlock
			if m.text != "" {
				blocks = append(blocks, bedrockBlock{Type: "text", Text: m.text})
			}
			for _, tc := range m.toolCalls {
				blocks = append(blocks, bedrockBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(argsJSON(tc.Args))})
			}
			if len(blocks) > 0 {
				out = append(out, bedrockMessage{Role: "assistant", Content: blocks})
			}
		case session.RoleTool:
			out = append(out, bedrockMessage{Role: "user", Content: []bedrockBlock{{
				Type: "tool_result", ToolUseID: m.callID, Content: m.text, IsError: m.failed,
			}}})
		default:
			out = append(out, bedrockMessage{Role: "user", Content: []bedrockBlock{{Type: "text", Text: m.text}}})
		}
	}
	return out
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	body := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        anthropicMaxTokens,
		Temperature:      req.Temperature,
		System:           req.System,
		Messages:         convertMessagesToBedrock(toMessages(req.Turns)),
	}
	for _, s := range req.Tools {
		body.Tools = append(body.Tools, bedrockTool{Name: s.Name, Description: s.Description, InputSchema: schemaOrEmpty(s)})
	}
	return json.Marshal(body)
}

func schemaOrEmpty(s tools.Spec) map[string]any {
	if len(s.Parameters) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return s.Parameters
}

func processBedrockResponse(body []byte) (*Response, error) {
	var resp struct {
		Content []bedrockBlock `json:"content"`
		Error   any            `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %v", resp.Error)
	}
	out := &Response{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args, err := parseArgs(string(block.Input))
			if err != nil {
				return nil, &GatewayError{Kind: Fatal, Err: errors.Wrapf(err, "tool call %s", block.Name)}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	return out, nil
}
