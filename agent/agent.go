package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/llm"
	"github.com/m4xw311/shellmind/prompt"
	"github.com/m4xw311/shellmind/safety"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"go.uber.org/zap"
)

var (
	ErrBudgetExhausted  = errors.Sentinel("step budget exhausted")
	ErrCancelled        = errors.Sentinel("session cancelled")
	ErrExit             = errors.Sentinel("session ended by user")
	ErrNothingToExplain = errors.Sentinel("no command to explain yet")
)

// Synthesizer produces the model's next reply for a payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, p prompt.Payload) (llm.Reply, error)
}

// Config holds the knobs of one agent. Zero values fall back to defaults.
type Config struct {
	Mode            session.Mode
	MaxSteps        int
	ToolConcurrency int
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	AutoExecute     bool
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = session.ModeDefault
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 30
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 8 * time.Second
	}
}

// ProcessCallbacks lets the interaction layer observe and steer the agent.
// Every field is optional. ConfirmCommand is asked before a command runs
// whenever the policy demands it; without it such commands are declined.
type ProcessCallbacks struct {
	OnStateChange   func(from, to State)
	OnCommand       func(cmd safety.SynthesizedCommand, reply llm.CommandReply)
	OnExplanation   func(reply llm.ExplanationReply)
	OnClarification func(reply llm.ClarificationReply)
	OnToolCall      func(call session.ToolCall)
	OnToolResult    func(call session.ToolCall, result session.ToolResult)
	OnExecution     func(result tools.ExecResult, err error)
	OnWarning       func(warning string)
	OnRetry         func(attempt int, err error)
	ConfirmCommand  func(ctx context.Context, cmd safety.SynthesizedCommand, warning string) (bool, error)
}

// Deps are the collaborators of an agent.
type Deps struct {
	Gateway    Synthesizer
	Builder    *prompt.Builder
	Registry   *tools.Registry
	Classifier *safety.Classifier
	Runner     tools.Runner
	Callbacks  ProcessCallbacks
	Logger     *zap.Logger
}

// Agent drives one conversation through the state machine. It is not safe
// for concurrent use; a single goroutine calls Submit, Explain, Step or Run.
type Agent struct {
	cfg        Config
	gateway    Synthesizer
	builder    *prompt.Builder
	registry   *tools.Registry
	classifier *safety.Classifier
	runner     tools.Runner
	policy     safety.Policy
	callbacks  ProcessCallbacks
	logger     *zap.Logger

	sess  *session.AgentSession
	state State
	err   error

	pending     bool
	explainCmd  string
	explaining  bool
	reply       llm.Reply
	command     safety.SynthesizedCommand
	approved    bool
	calls       []session.ToolCall
	lastCommand string
}

func New(cfg Config, deps Deps) (*Agent, error) {
	if deps.Gateway == nil {
		return nil, errors.New("agent needs a gateway")
	}
	if deps.Classifier == nil {
		return nil, errors.New("agent needs a safety classifier")
	}
	if deps.Runner == nil {
		return nil, errors.New("agent needs a command runner")
	}
	if deps.Builder == nil {
		deps.Builder = prompt.NewBuilder("", prompt.DefaultWindow)
	}
	if deps.Registry == nil {
		deps.Registry = tools.NewRegistry(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.applyDefaults()

	a := &Agent{
		cfg:        cfg,
		gateway:    deps.Gateway,
		builder:    deps.Builder,
		registry:   deps.Registry,
		classifier: deps.Classifier,
		runner:     deps.Runner,
		policy:     safety.Policy{AutoExecute: cfg.AutoExecute},
		callbacks:  deps.Callbacks,
		logger:     deps.Logger.Named("agent"),
	}
	a.reset()
	return a, nil
}

func (a *Agent) reset() {
	a.sess = session.New(a.cfg.Mode, a.cfg.MaxSteps)
	a.state = AwaitingInput
	a.err = nil
	a.clearPending()
	a.logger.Debug("new session", zap.String("session_id", a.sess.ID), zap.String("mode", string(a.cfg.Mode)))
}

func (a *Agent) clearPending() {
	a.pending = false
	a.explaining = false
	a.explainCmd = ""
	a.reply = nil
	a.command = safety.SynthesizedCommand{}
	a.approved = false
	a.calls = nil
}

func (a *Agent) State() State                   { return a.state }
func (a *Agent) Session() *session.AgentSession { return a.sess }
func (a *Agent) Mode() session.Mode             { return a.cfg.Mode }

// Err is the reason the session terminated, or nil while it is live.
func (a *Agent) Err() error { return a.err }

// LastCommand is the most recent command the model proposed.
func (a *Agent) LastCommand() string { return a.lastCommand }

// Submit records user text and runs the machine until it needs input again.
// A terminated session is replaced by a fresh one first.
func (a *Agent) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if a.state == Terminated {
		a.reset()
	}
	if a.cfg.Mode == session.ModeExplain {
		return a.Explain(ctx, text)
	}
	a.sess.Memory.Append(session.Turn{Role: session.RoleUser, Content: text})
	a.pending = true
	return a.Run(ctx)
}

// Explain asks for an explanation of command without offering to run it.
// An empty command explains the last proposed command.
func (a *Agent) Explain(ctx context.Context, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		command = a.lastCommand
	}
	if command == "" {
		return ErrNothingToExplain
	}
	if a.state == Terminated {
		a.reset()
	}
	a.sess.Memory.Append(session.Turn{Role: session.RoleUser, Content: "/explain " + command})
	a.pending = true
	a.explaining = true
	a.explainCmd = command
	return a.Run(ctx)
}

// Stop terminates the session at the user's request.
func (a *Agent) Stop() {
	a.terminate(ErrExit)
}

// Run calls Step until the machine waits for input or terminates. It
// returns the termination reason, if any.
func (a *Agent) Run(ctx context.Context) error {
	for {
		state, err := a.Step(ctx)
		if state == Terminated {
			return err
		}
		if state == AwaitingInput && !a.pending {
			return nil
		}
	}
}

// Step performs exactly one transition.
func (a *Agent) Step(ctx context.Context) (State, error) {
	if a.state == Terminated {
		return Terminated, a.err
	}
	if ctx.Err() != nil {
		a.cancel()
		return Terminated, a.err
	}

	switch a.state {
	case AwaitingInput:
		if a.pending {
			a.transition(Synthesizing)
		}
	case Synthesizing:
		a.stepSynthesize(ctx)
	case Clarifying:
		a.stepClarify()
	case Confirming:
		a.stepConfirm(ctx)
	case Executing:
		a.stepExecute(ctx)
	case ToolDispatch:
		a.stepDispatch(ctx)
	}
	return a.state, a.err
}

func (a *Agent) transition(to State) {
	from := a.state
	a.state = to
	a.logger.Debug("state change", zap.Stringer("from", from), zap.Stringer("to", to), zap.Int("step", a.sess.StepCount))
	if a.callbacks.OnStateChange != nil {
		a.callbacks.OnStateChange(from, to)
	}
}

func (a *Agent) terminate(reason error) {
	if a.state == Terminated {
		return
	}
	a.err = reason
	a.clearPending()
	a.transition(Terminated)
	a.logger.Info("session terminated", zap.String("session_id", a.sess.ID), zap.Int("steps", a.sess.StepCount), zap.Error(reason))
}

// cancel ends the session, first giving every outstanding tool call a
// result so no call is left without one.
func (a *Agent) cancel() {
	for _, call := range a.calls {
		a.appendResult(call, session.Failure(call.ID, "cancelled"))
	}
	a.calls = nil
	a.terminate(ErrCancelled)
}

func (a *Agent) stepSynthesize(ctx context.Context) {
	if a.sess.BudgetExhausted() {
		a.terminate(ErrBudgetExhausted)
		return
	}
	a.pending = false

	var p prompt.Payload
	if a.explaining {
		p = a.builder.BuildExplain(a.explainCmd)
	} else {
		var catalog []tools.Spec
		if a.cfg.Mode == session.ModeAgent {
			catalog = a.registry.Catalog()
		}
		p = a.builder.Build(a.sess, a.cfg.Mode, catalog)
	}
	a.explaining = false
	a.explainCmd = ""

	reply, err := a.synthesize(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			a.cancel()
			return
		}
		a.terminate(err)
		return
	}

	if c, ok := reply.(llm.ClarificationReply); ok {
		a.reply = c
		a.transition(Clarifying)
		return
	}
	a.sess.Advance()

	switch r := reply.(type) {
	case llm.ExplanationReply:
		a.sess.Memory.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindExplanation, Content: explanationText(r)})
		if a.callbacks.OnExplanation != nil {
			a.callbacks.OnExplanation(r)
		}
		a.transition(AwaitingInput)
	case llm.CommandReply:
		a.routeCommand(r)
	case llm.ToolCallsReply:
		a.routeToolCalls(r)
	}
}

func explanationText(r llm.ExplanationReply) string {
	if r.Warning == "" {
		return r.Content
	}
	return r.Content + "\n\nWarning: " + r.Warning
}

func (a *Agent) routeCommand(r llm.CommandReply) {
	cmd, err := a.classifier.Classify(r.Command)
	if err != nil {
		a.logger.Warn("command could not be classified", zap.String("command", r.Command), zap.Error(err))
	}
	a.command = cmd
	a.approved = false
	a.lastCommand = cmd.Text

	content := r.Content
	if content != "" {
		content += "\n"
	}
	a.sess.Memory.Append(session.Turn{Role: session.RoleAssistant, Content: content + "Command: " + cmd.Text})

	if a.callbacks.OnCommand != nil {
		a.callbacks.OnCommand(cmd, r)
	}
	if w := combineWarnings(safety.Warning(cmd), r.Warning); w != "" && a.callbacks.OnWarning != nil {
		a.callbacks.OnWarning(w)
	}
	if a.policy.RequiresConfirmation(cmd.Tier) {
		a.reply = r
		a.transition(Confirming)
		return
	}
	a.transition(Executing)
}

func combineWarnings(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func (a *Agent) routeToolCalls(r llm.ToolCallsReply) {
	calls := make([]session.ToolCall, len(r.Calls))
	for i, c := range r.Calls {
		for !a.sess.ClaimCallID(c.ID) {
			c.ID = llm.NewCallID()
		}
		calls[i] = c
	}
	a.sess.Memory.Append(session.Turn{Role: session.RoleAssistant, Content: r.Content, ToolCalls: calls})
	a.calls = calls
	a.transition(ToolDispatch)
}

func (a *Agent) stepClarify() {
	r, _ := a.reply.(llm.ClarificationReply)
	a.reply = nil
	a.sess.Memory.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindClarification, Content: r.Text()})
	if a.callbacks.OnClarification != nil {
		a.callbacks.OnClarification(r)
	}
	a.transition(AwaitingInput)
}

func (a *Agent) confirm(ctx context.Context, cmd safety.SynthesizedCommand, warning string) bool {
	if a.callbacks.ConfirmCommand == nil {
		return false
	}
	ok, err := a.callbacks.ConfirmCommand(ctx, cmd, warning)
	if err != nil {
		a.logger.Warn("confirmation failed, treating as declined", zap.Error(err))
		return false
	}
	return ok
}

func (a *Agent) recordConfirmation(command string, approved bool) {
	verdict := "declined"
	if approved {
		verdict = "approved"
	}
	a.sess.Memory.Append(session.Turn{
		Role:    session.RoleUser,
		Kind:    session.KindConfirmation,
		Content: fmt.Sprintf("%s: %s", verdict, command),
	})
}

func (a *Agent) stepConfirm(ctx context.Context) {
	r, _ := a.reply.(llm.CommandReply)
	a.reply = nil
	ok := a.confirm(ctx, a.command, combineWarnings(safety.Warning(a.command), r.Warning))
	if ctx.Err() != nil {
		a.cancel()
		return
	}
	a.recordConfirmation(a.command.Text, ok)
	if !ok {
		a.sess.Memory.Append(session.Turn{
			Role:     session.RoleTool,
			Kind:     session.KindExecution,
			ToolName: tools.ShellExecName,
			Content:  "Command not executed: declined by the user.",
		})
		a.command = safety.SynthesizedCommand{}
		a.transition(AwaitingInput)
		return
	}
	a.approved = true
	a.transition(Executing)
}

func (a *Agent) stepExecute(ctx context.Context) {
	cmd := a.command
	a.command = safety.SynthesizedCommand{}
	if cmd.Tier == safety.Dangerous && !a.approved {
		// Dangerous commands only run after an approval.
		a.logger.Warn("refusing unconfirmed dangerous command", zap.String("command", cmd.Text))
		a.sess.Memory.Append(session.Turn{
			Role:     session.RoleTool,
			Kind:     session.KindExecution,
			ToolName: tools.ShellExecName,
			Content:  "Command not executed: dangerous command was not confirmed.",
			Failed:   true,
		})
		a.transition(AwaitingInput)
		return
	}
	a.approved = false

	res, err := a.runner.Run(ctx, cmd.Text)
	content := res.Format()
	if err != nil {
		content = "Error: " + err.Error()
		if res.Stdout != "" || res.Stderr != "" {
			content += "\n" + res.Format()
		}
	}
	a.sess.Memory.Append(session.Turn{
		Role:     session.RoleTool,
		Kind:     session.KindExecution,
		ToolName: tools.ShellExecName,
		Content:  content,
		Failed:   err != nil,
	})
	if a.callbacks.OnExecution != nil {
		a.callbacks.OnExecution(res, err)
	}
	if ctx.Err() != nil {
		a.cancel()
		return
	}
	a.transition(AwaitingInput)
}
