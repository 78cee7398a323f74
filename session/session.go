package session

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Kind distinguishes turns that share a role. Provider adapters use it to
// decide what the model gets to see.
type Kind string

const (
	KindMessage       Kind = "message"
	KindConfirmation  Kind = "confirmation"
	KindExecution     Kind = "execution"
	KindClarification Kind = "clarification"
	KindExplanation   Kind = "explanation"
)

type Mode string

const (
	ModeDefault Mode = "default"
	ModeAgent   Mode = "agent"
	ModeExplain Mode = "explain"
)

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	CallID string `json:"call_id"`
	Status Status `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Success(callID, output string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusSuccess, Output: output}
}

func Failure(callID, msg string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusFailure, Error: msg}
}

// Text is what the model sees for this result.
func (r ToolResult) Text() string {
	if r.Status == StatusFailure {
		return "Error: " + r.Error
	}
	return r.Output
}

type Turn struct {
	Role      Role       `json:"role"`
	Kind      Kind       `json:"kind"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
}

func (t Turn) clone() Turn {
	if t.ToolCalls == nil {
		return t
	}
	calls := make([]ToolCall, len(t.ToolCalls))
	for i, c := range t.ToolCalls {
		args := make(map[string]any, len(c.Args))
		for k, v := range c.Args {
			args[k] = v
		}
		calls[i] = ToolCall{ID: c.ID, Name: c.Name, Args: args}
	}
	t.ToolCalls = calls
	return t
}

// Memory is the append-only turn log of one session. It has a single writer
// and is not safe for concurrent use.
type Memory struct {
	turns []Turn
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Append records a turn, stamping it if the caller did not. The stored turn
// is a copy; later changes to t do not affect the log.
func (m *Memory) Append(t Turn) Turn {
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}
	if t.Kind == "" {
		t.Kind = KindMessage
	}
	t = t.clone()
	m.turns = append(m.turns, t)
	return t.clone()
}

func (m *Memory) Len() int { return len(m.turns) }

// Turns returns a copy of the whole log.
func (m *Memory) Turns() []Turn {
	return m.Window(len(m.turns))
}

// Window returns copies of the trailing n turns.
func (m *Memory) Window(n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	start := len(m.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, 0, len(m.turns)-start)
	for _, t := range m.turns[start:] {
		out = append(out, t.clone())
	}
	return out
}

// Last returns the most recent turn matching pred.
func (m *Memory) Last(pred func(Turn) bool) (Turn, bool) {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if pred(m.turns[i]) {
			return m.turns[i].clone(), true
		}
	}
	return Turn{}, false
}

// AgentSession is one conversation from first input to termination.
type AgentSession struct {
	ID        string
	Mode      Mode
	Memory    *Memory
	StepCount int
	MaxSteps  int

	callIDs map[string]struct{}
}

func New(mode Mode, maxSteps int) *AgentSession {
	return &AgentSession{
		ID:       uuid.NewString(),
		Mode:     mode,
		Memory:   NewMemory(),
		MaxSteps: maxSteps,
		callIDs:  make(map[string]struct{}),
	}
}

// BudgetExhausted reports whether another reasoning step is allowed.
func (s *AgentSession) BudgetExhausted() bool {
	return s.StepCount >= s.MaxSteps
}

// Advance consumes one step.
func (s *AgentSession) Advance() {
	s.StepCount++
}

// ClaimCallID records id as used. It returns false when the id has already
// been seen in this session.
func (s *AgentSession) ClaimCallID(id string) bool {
	if id == "" {
		return false
	}
	if _, dup := s.callIDs[id]; dup {
		return false
	}
	s.callIDs[id] = struct{}{}
	return true
}
