package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
)

// Request is one completion request in provider-neutral form.
type Request struct {
	System      string
	Turns       []session.Turn
	Tools       []tools.Spec
	Temperature float64
}

// Response is the raw output of a provider: free text, tool calls or both.
type Response struct {
	Text      string
	ToolCalls []session.ToolCall
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// message is the neutral shape every adapter converts from. Confirmation
// turns are bookkeeping for the user and are never sent; command output that
// did not come from a tool call is sent as a user message.
type message struct {
	role      session.Role
	text      string
	toolCalls []session.ToolCall
	callID    string
	toolName  string
	failed    bool
}

func toMessages(turns []session.Turn) []message {
	out := make([]message, 0, len(turns))
	for _, t := range turns {
		if t.Kind == session.KindConfirmation {
			continue
		}
		m := message{role: t.Role, text: t.Content, toolCalls: t.ToolCalls, callID: t.CallID, toolName: t.ToolName, failed: t.Failed}
		if t.Role == session.RoleTool && t.CallID == "" {
			m.role = session.RoleUser
			m.text = "Command output:\n" + t.Content
		}
		out = append(out, m)
	}
	return out
}

func argsJSON(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func parseArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrapf(err, "tool call arguments are not a JSON object")
	}
	return args, nil
}

// MockClient answers every request with an explanation that echoes the last
// user message. It needs no credentials.
type MockClient struct{}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	last := ""
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == session.RoleUser {
			last = req.Turns[i].Content
			break
		}
	}
	reply := map[string]any{
		"thinking": "mock provider",
		"output":   map[string]any{"content": fmt.Sprintf("I am a mock LLM. You said: '%s'.", last)},
	}
	b, _ := json.Marshal(reply)
	return &Response{Text: string(b)}, nil
}

// ScriptedClient replays canned responses in order and records every request
// it receives. Once the script runs out it returns an error.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []ScriptStep
	requests []Request
}

// ScriptStep is one canned outcome. Wait, when set, blocks the call until it
// is closed or the context ends.
type ScriptStep struct {
	Response *Response
	Err      error
	Wait     <-chan struct{}
}

func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Text is a shorthand step that returns raw text.
func Text(s string) ScriptStep {
	return ScriptStep{Response: &Response{Text: s}}
}

// Calls is a shorthand step that requests tools.
func Calls(calls ...session.ToolCall) ScriptStep {
	return ScriptStep{Response: &Response{ToolCalls: calls}}
}

// Fail is a shorthand step that returns err.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

func (s *ScriptedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, errors.New("scripted client has no response left")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Wait != nil {
		select {
		case <-step.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns what the client has been asked so far.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many scripted steps have not been consumed.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
