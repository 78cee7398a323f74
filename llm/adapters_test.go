package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversation = []session.Turn{
	{Role: session.RoleUser, Content: "is nginx up to date?"},
	{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{
		{ID: "a", Name: "web-search", Args: map[string]any{"query": "nginx latest"}},
		{ID: "b", Name: "shell-exec", Args: map[string]any{"command": "nginx -v"}},
	}},
	{Role: session.RoleTool, CallID: "a", ToolName: "web-search", Content: "1.27.3"},
	{Role: session.RoleTool, CallID: "b", ToolName: "shell-exec", Content: "nginx/1.25.0"},
	{Role: session.RoleUser, Kind: session.KindConfirmation, Content: "approved"},
	{Role: session.RoleAssistant, Content: `{"output":{"content":"An upgrade is available."}}`},
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages("system prompt", toMessages(conversation))
	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "a", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[5].OfAssistant)
}

func TestToAnthropicMessages(t *testing.T) {
	msgs := toAnthropicMessages(toMessages(conversation))
	require.Len(t, msgs, 5)
	require.Len(t, msgs[1].Content, 2)
	assert.Equal(t, "b", msgs[1].Content[1].OfToolUse.ID)
	assert.Equal(t, "a", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestToAnthropicTools(t *testing.T) {
	got := toAnthropicTools([]tools.Spec{{
		Name:        "read_file",
		Description: "Reads",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"path"}, got[0].InputSchema.Required)
	assert.Equal(t, map[string]any{"path": map[string]any{"type": "string"}}, got[0].InputSchema.Properties)
}

func TestToGeminiContentsMergesToolResults(t *testing.T) {
	contents := toGeminiContents(toMessages(conversation))
	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, genai.FunctionCall{Name: "web-search", Args: map[string]any{"query": "nginx latest"}}, contents[1].Parts[0])
	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, genai.FunctionResponse{Name: "shell-exec", Response: map[string]any{"output": "nginx/1.25.0", "failed": false}}, contents[2].Parts[1])
	assert.Equal(t, "model", contents[3].Role)
}

func TestToGeminiSchema(t *testing.T) {
	got := toGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string", "description": "What to search"},
			"max_results": map[string]any{"type": "integer"},
			"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"a", "b"}}},
		},
		"required": []any{"query"},
	})
	assert.Equal(t, genai.TypeObject, got.Type)
	assert.Equal(t, []string{"query"}, got.Required)
	assert.Equal(t, "What to search", got.Properties["query"].Description)
	assert.Equal(t, genai.TypeInteger, got.Properties["max_results"].Type)
	assert.Equal(t, []string{"a", "b"}, got.Properties["tags"].Items.Enum)
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseArgs(`{"command":"ls"}`)
	require.NoError(t, err)
	assert.Equal(t, "ls", args["command"])

	_, err = parseArgs(`["ls"]`)
	assert.Error(t, err)
}
