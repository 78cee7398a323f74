package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/prompt"
	"github.com/m4xw311/shellmind/session"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Reply is the structured outcome of one synthesis. The set of variants is
// closed: CommandReply, ExplanationReply, ClarificationReply and
// ToolCallsReply.
type Reply interface {
	reply()
}

type CommandReply struct {
	Command  string
	Content  string
	Warning  string
	Thinking string
}

type ExplanationReply struct {
	Content  string
	Command  string
	Warning  string
	Thinking string
}

type FollowUp struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type ClarificationReply struct {
	Content   string
	Questions []FollowUp
}

type ToolCallsReply struct {
	Content string
	Calls   []session.ToolCall
}

func (CommandReply) reply()       {}
func (ExplanationReply) reply()   {}
func (ClarificationReply) reply() {}
func (ToolCallsReply) reply()     {}

// Text renders a clarification as it is stored in the session.
func (c ClarificationReply) Text() string {
	var b strings.Builder
	if c.Content != "" {
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	for i, q := range c.Questions {
		if i > 0 || c.Content != "" {
			b.WriteString("\n")
		}
		b.WriteString(q.Question)
		for _, o := range q.Options {
			b.WriteString("\n  - ")
			b.WriteString(o)
		}
	}
	return b.String()
}

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 60 * time.Second

// Gateway sends payloads to a provider and turns the raw answer into a Reply.
type Gateway struct {
	client      Client
	provider    string
	timeout     time.Duration
	temperature float64
	logger      *zap.Logger
}

func NewGateway(client Client, cfg config.LLMConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		client:      client,
		provider:    cfg.Provider,
		timeout:     timeout,
		temperature: cfg.Temperature,
		logger:      logger.Named("gateway"),
	}
}

func (g *Gateway) Provider() string { return g.provider }

// Synthesize performs one provider call. Every error it returns is a
// *GatewayError.
func (g *Gateway) Synthesize(ctx context.Context, p prompt.Payload) (Reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(callCtx, Request{
		System:      p.System,
		Turns:       p.Turns,
		Tools:       p.Tools,
		Temperature: g.temperature,
	})
	if err != nil {
		// The parent context ending is cancellation, not a provider fault.
		if ctx.Err() != nil {
			return nil, &GatewayError{Kind: Fatal, Provider: g.provider, Err: ctx.Err()}
		}
		if callCtx.Err() != nil {
			return nil, &GatewayError{Kind: Transient, Provider: g.provider, Err: errors.Wrapf(err, "no reply within %s", g.timeout)}
		}
		gerr := classifyError(g.provider, err)
		g.logger.Warn("provider call failed", zap.Stringer("kind", gerr.Kind), zap.Int("status", gerr.Status), zap.Error(err))
		return nil, gerr
	}
	g.logger.Debug("provider replied", zap.Duration("elapsed", time.Since(start)), zap.Int("tool_calls", len(resp.ToolCalls)))

	reply, err := Parse(resp, p.Mode)
	if err != nil {
		gerr := classifyError(g.provider, err)
		if gerr.Provider == "" {
			gerr.Provider = g.provider
		}
		g.logger.Warn("unusable reply", zap.Stringer("kind", gerr.Kind), zap.Error(gerr.Err))
		return nil, gerr
	}
	if gerr := g.checkReply(reply, p.Mode); gerr != nil {
		return nil, gerr
	}
	return reply, nil
}

func (g *Gateway) checkReply(r Reply, mode session.Mode) *GatewayError {
	if _, ok := r.(ToolCallsReply); ok && mode != session.ModeAgent {
		return fatalf(g.provider, "model requested tools outside agent mode")
	}
	return nil
}

type rawReply struct {
	Thinking string `json:"thinking"`
	Output   *struct {
		Content string `json:"content"`
		Command string `json:"command"`
		Warning string `json:"warning"`
	} `json:"output"`
	FollowUps []FollowUp `json:"follow_ups"`
}

var fencedObject = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")

// Parse converts a raw provider response into a Reply. Tool calls win over
// everything, then follow-up questions, then a command, then plain content.
// Text that is not a JSON reply becomes an explanation; JSON that breaks the
// reply contract is a fatal error. In explain mode every reply is an
// explanation.
func Parse(resp *Response, mode session.Mode) (Reply, error) {
	if resp == nil {
		return nil, &GatewayError{Kind: Transient, Err: errors.New("empty response")}
	}
	if len(resp.ToolCalls) > 0 && mode != session.ModeExplain {
		calls := make([]session.ToolCall, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			if strings.TrimSpace(c.Name) == "" {
				return nil, &GatewayError{Kind: Fatal, Err: errors.New("tool call %d has no name", i)}
			}
			if c.ID == "" {
				c.ID = NewCallID()
			}
			if c.Args == nil {
				c.Args = map[string]any{}
			}
			calls[i] = c
		}
		return ToolCallsReply{Content: strings.TrimSpace(resp.Text), Calls: calls}, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, &GatewayError{Kind: Transient, Err: errors.New("empty response")}
	}

	body, strict := extractJSON(text)
	if body == "" {
		return ExplanationReply{Content: text}, nil
	}
	var raw rawReply
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		if strict {
			return nil, &GatewayError{Kind: Fatal, Err: errors.Wrapf(err, "reply is not valid JSON")}
		}
		return ExplanationReply{Content: text}, nil
	}
	if raw.Output == nil && len(raw.FollowUps) == 0 {
		if strict {
			return nil, &GatewayError{Kind: Fatal, Err: errors.New("reply has neither output nor follow_ups")}
		}
		return ExplanationReply{Content: text}, nil
	}

	var content, command, warning string
	if raw.Output != nil {
		content = strings.TrimSpace(raw.Output.Content)
		command = strings.TrimSpace(raw.Output.Command)
		warning = strings.TrimSpace(raw.Output.Warning)
	}

	if mode == session.ModeExplain {
		if content == "" {
			return nil, &GatewayError{Kind: Fatal, Err: errors.New("explanation reply has no content")}
		}
		return ExplanationReply{Content: content, Command: command, Warning: warning, Thinking: raw.Thinking}, nil
	}

	var questions []FollowUp
	for _, f := range raw.FollowUps {
		q := strings.TrimSpace(f.Question)
		if q == "" {
			return nil, &GatewayError{Kind: Fatal, Err: errors.New("follow-up without a question")}
		}
		questions = append(questions, FollowUp{Question: q, Options: f.Options})
	}
	switch {
	case len(questions) > 0:
		return ClarificationReply{Content: content, Questions: questions}, nil
	case command != "":
		return CommandReply{Command: command, Content: content, Warning: warning, Thinking: raw.Thinking}, nil
	case content != "":
		return ExplanationReply{Content: content, Warning: warning, Thinking: raw.Thinking}, nil
	default:
		return nil, &GatewayError{Kind: Fatal, Err: errors.New("reply output is empty")}
	}
}

// extractJSON finds the JSON object in text. strict is true when the text is
// unmistakably meant to be JSON (a bare object or a fenced block), in which
// case a parse failure is a contract violation rather than prose.
func extractJSON(text string) (body string, strict bool) {
	if strings.HasPrefix(text, "{") {
		return text, true
	}
	if strings.HasPrefix(text, "```") {
		if m := fencedObject.FindStringSubmatch(text); len(m) > 1 {
			return m[1], true
		}
		return "", false
	}
	if m := fencedObject.FindStringSubmatch(text); len(m) > 1 {
		return m[1], false
	}
	first, last := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		return text[first : last+1], false
	}
	return "", false
}

// NewCallID returns an identifier for a tool call the provider did not name.
func NewCallID() string {
	return "call_" + ulid.Make().String()
}
