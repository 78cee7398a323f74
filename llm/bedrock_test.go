package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestConvertMessagesToBedrock(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "Hello, world!"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "call_1", Name: "test_tool", Args: map[string]any{"param1": "value1"}}}},
		{Role: session.RoleTool, CallID: "call_1", ToolName: "test_tool", Content: "Tool result", Failed: true},
		{Role: session.RoleUser, Kind: session.KindConfirmation, Content: "confirmed: ls"},
		{Role: session.RoleTool, Kind: session.KindExecution, Content: "Exit code: 0"},
		{Role: session.RoleAssistant, Content: "Done."},
	}

	got := convertMessagesToBedrock(toMessages(turns))
	require.Len(t, got, 5)

	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "Hello, world!", got[0].Content[0].Text)

	assert.Equal(t, "assistant", got[1].Role)
	assert.Equal(t, "tool_use", got[1].Content[0].Type)
	assert.JSONEq(t, `{"param1":"value1"}`, string(got[1].Content[0].Input))

	assert.Equal(t, "user", got[2].Role)
	assert.Equal(t, bedrockBlock{Type: "tool_result", ToolUseID: "call_1", Content: "Tool result", IsError: true}, got[2].Content[0])

	assert.Equal(t, "user", got[3].Role)
	assert.Equal(t, "Command output:\nExit code: 0", got[3].Content[0].Text)

	assert.Equal(t, "assistant", got[4].Role)
}

func TestCreateAnthropicRequest(t *testing.T) {
	body, err := createAnthropicRequest(Request{
		System:      "be brief",
		Temperature: 0.3,
		Turns:       []session.Turn{{Role: session.RoleUser, Content: "Hello!"}},
		Tools: []tools.Spec{
			{Name: "test_tool", Description: "A test tool"},
			{Name: "shell-exec", Description: "Runs", Parameters: map[string]any{"type": "object", "required": []any{"command"}}},
		},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.Equal(t, "be brief", decoded["system"])
	assert.Equal(t, 0.3, decoded["temperature"])
	toolList := decoded["tools"].([]any)
	require.Len(t, toolList, 2)
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, toolList[0].(map[string]any)["input_schema"])

	body, err = createAnthropicRequest(Request{Turns: []session.Turn{{Role: session.RoleUser, Content: "Hello!"}}})
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"tools"`)
	assert.NotContains(t, string(body), `"system"`)
}

func TestBedrockClientComplete(t *testing.T) {
	invoker := &fakeInvoker{body: `{"content":[
		{"type":"text","text":"Checking."},
		{"type":"tool_use","id":"toolu_1","name":"web-search","input":{"query":"nginx"}}
	]}`}
	client := &BedrockClient{client: invoker, modelID: "anthropic.claude-3-5-haiku-20241022-v1:0"}

	resp, err := client.Complete(context.Background(), Request{Turns: []session.Turn{{Role: session.RoleUser, Content: "latest nginx?"}}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-5-haiku-20241022-v1:0", *invoker.input.ModelId)
	assert.Equal(t, "Checking.", resp.Text)
	assert.Equal(t, []session.ToolCall{{ID: "toolu_1", Name: "web-search", Args: map[string]any{"query": "nginx"}}}, resp.ToolCalls)
}

func TestProcessBedrockResponseError(t *testing.T) {
	_, err := processBedrockResponse([]byte(`{"error":"throttled"}`))
	assert.Error(t, err)

	_, err = processBedrockResponse([]byte(`not json`))
	assert.Error(t, err)
}
