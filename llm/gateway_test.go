package llm

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/prompt"
	"github.com/m4xw311/shellmind/session"
	"github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		mode session.Mode
		want Reply
	}{
		{
			name: "bare command",
			text: `{"thinking":"docker","output":{"command":"docker ps"}}`,
			want: CommandReply{Command: "docker ps", Thinking: "docker"},
		},
		{
			name: "fenced command with warning",
			text: "```json\n{\"output\":{\"command\":\"sudo systemctl restart nginx\",\"warning\":\"brief downtime\"}}\n```",
			want: CommandReply{Command: "sudo systemctl restart nginx", Warning: "brief downtime"},
		},
		{
			name: "prose around json",
			text: "Here you go:\n{\"output\":{\"content\":\"Use df -h.\"}}\nthanks",
			want: ExplanationReply{Content: "Use df -h."},
		},
		{
			name: "free text",
			text: "Sure, df -h shows disk usage.",
			want: ExplanationReply{Content: "Sure, df -h shows disk usage."},
		},
		{
			name: "prose with braces that is not a reply",
			text: "Use ${HOME} in the path {like this}.",
			want: ExplanationReply{Content: "Use ${HOME} in the path {like this}."},
		},
		{
			name: "follow ups win over command",
			text: `{"output":{"content":"Which logs?","command":"rm -rf /var/log/*"},"follow_ups":[{"question":"Which logs?","options":["app","system"]}]}`,
			want: ClarificationReply{Content: "Which logs?", Questions: []FollowUp{{Question: "Which logs?", Options: []string{"app", "system"}}}},
		},
		{
			name: "explain mode coerces to explanation",
			text: `{"output":{"content":"Lists files.","command":"ls -la"},"follow_ups":[{"question":"more?"}]}`,
			mode: session.ModeExplain,
			want: ExplanationReply{Content: "Lists files.", Command: "ls -la"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode := tt.mode
			if mode == "" {
				mode = session.ModeDefault
			}
			got, err := Parse(&Response{Text: tt.text}, mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseContractViolations(t *testing.T) {
	for name, text := range map[string]string{
		"broken json":       `{"output": {"command": "ls"`,
		"missing output":    `{"thinking": "hmm"}`,
		"empty output":      `{"output": {}}`,
		"blank question":    `{"follow_ups": [{"question": " "}]}`,
		"fenced not a json": "```json\n{not json}\n```",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(&Response{Text: text}, session.ModeDefault)
			var gerr *GatewayError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, Fatal, gerr.Kind)
		})
	}

	_, err := Parse(&Response{Text: "  "}, session.ModeDefault)
	assert.True(t, IsTransient(err))
}

func TestParseToolCallsTakePrecedence(t *testing.T) {
	got, err := Parse(&Response{
		Text: `{"output":{"command":"ls"}}`,
		ToolCalls: []session.ToolCall{
			{ID: "abc", Name: "web-search", Args: map[string]any{"query": "nginx"}},
			{Name: "env_detector"},
		},
	}, session.ModeAgent)
	require.NoError(t, err)

	reply, ok := got.(ToolCallsReply)
	require.True(t, ok)
	require.Len(t, reply.Calls, 2)
	assert.Equal(t, "abc", reply.Calls[0].ID)
	assert.True(t, strings.HasPrefix(reply.Calls[1].ID, "call_"))
	assert.Len(t, reply.Calls[1].ID, len("call_")+26)
	assert.Equal(t, map[string]any{}, reply.Calls[1].Args)
}

func TestClarificationText(t *testing.T) {
	c := ClarificationReply{Content: "I need more detail.", Questions: []FollowUp{
		{Question: "Which namespace?", Options: []string{"default", "prod"}},
		{Question: "Include completed pods?"},
	}}
	assert.Equal(t, "I need more detail.\n\nWhich namespace?\n  - default\n  - prod\nInclude completed pods?", c.Text())
}

func payload(mode session.Mode) prompt.Payload {
	return prompt.Payload{Mode: mode, System: "sys", Turns: []session.Turn{{Role: session.RoleUser, Content: "hi"}}}
}

func TestSynthesizeRejectsToolCallsOutsideAgentMode(t *testing.T) {
	client := NewScriptedClient(Calls(session.ToolCall{ID: "1", Name: "shell-exec"}))
	g := NewGateway(client, config.LLMConfig{Provider: "groq", Temperature: 0.3}, nil)

	_, err := g.Synthesize(context.Background(), payload(session.ModeDefault))
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, Fatal, gerr.Kind)
	assert.Equal(t, "groq", gerr.Provider)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "sys", reqs[0].System)
	assert.Equal(t, 0.3, reqs[0].Temperature)
}

type awsLikeError struct{ status int }

func (e awsLikeError) Error() string       { return "operation error Bedrock Runtime: InvokeModel" }
func (e awsLikeError) HTTPStatusCode() int { return e.status }

func TestSynthesizeClassifiesProviderErrors(t *testing.T) {
	openaiErr := func(status int) error {
		return &openai.Error{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil),
			Response:   &http.Response{StatusCode: status},
		}
	}
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status int
	}{
		{"rate limited", openaiErr(429), Transient, 429},
		{"server error", openaiErr(502), Transient, 502},
		{"unauthorized", openaiErr(401), Fatal, 401},
		{"bad request", openaiErr(400), Fatal, 400},
		{"google unavailable", &googleapi.Error{Code: 503, Message: "unavailable"}, Transient, 503},
		{"aws throttled", awsLikeError{status: 429}, Transient, 429},
		{"aws forbidden", awsLikeError{status: 403}, Fatal, 403},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}, Transient, 0},
		{"unknown", stderrors.New("model not found"), Fatal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(NewScriptedClient(Fail(tt.err)), config.LLMConfig{Provider: "openai"}, nil)
			_, err := g.Synthesize(context.Background(), payload(session.ModeDefault))
			var gerr *GatewayError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.kind, gerr.Kind)
			assert.Equal(t, tt.status, gerr.Status)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSynthesizeTimeoutIsTransient(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := NewGateway(NewScriptedClient(ScriptStep{Wait: block}), config.LLMConfig{Provider: "groq", Timeout: 20 * time.Millisecond}, nil)

	_, err := g.Synthesize(context.Background(), payload(session.ModeDefault))
	assert.True(t, IsTransient(err))
}

func TestSynthesizeCancellationIsNotRetried(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := NewGateway(NewScriptedClient(ScriptStep{Wait: block}), config.LLMConfig{Provider: "groq"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Synthesize(ctx, payload(session.ModeDefault))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatewayErrorMessage(t *testing.T) {
	err := &GatewayError{Kind: Transient, Provider: "groq", Status: 503, Attempts: 3, Err: stderrors.New("overloaded")}
	assert.Equal(t, "transient error from groq (HTTP 503) after 3 attempts: overloaded", err.Error())
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), &config.Config{LLM: config.LLMConfig{Provider: config.ProviderGroq}})
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, Fatal, gerr.Kind)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")

	_, err = NewClient(context.Background(), &config.Config{LLM: config.LLMConfig{Provider: config.ProviderAnthropic}})
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, Fatal, gerr.Kind)

	client, err := NewClient(context.Background(), &config.Config{
		LLM:         config.LLMConfig{Provider: config.ProviderOpenRouter, Model: "minimax/minimax-m2.1"},
		Credentials: config.Credentials{OpenRouter: "sk-or"},
	})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)

	client, err = NewClient(context.Background(), &config.Config{LLM: config.LLMConfig{Provider: config.ProviderMock}})
	require.NoError(t, err)
	resp, err := client.Complete(context.Background(), Request{Turns: []session.Turn{{Role: session.RoleUser, Content: "ping"}}})
	require.NoError(t, err)
	reply, err := Parse(resp, session.ModeDefault)
	require.NoError(t, err)
	assert.Equal(t, ExplanationReply{Content: "I am a mock LLM. You said: 'ping'.", Thinking: "mock provider"}, reply)
}
