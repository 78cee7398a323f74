package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/shellmind/agent"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/llm"
	"github.com/m4xw311/shellmind/safety"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
)

// FollowUpPrefix starts the user turn that carries answers to the model's
// follow-up questions.
const FollowUpPrefix = "Answers to follow-up questions:"

// Options configures a Terminal. Nil In and Out are not allowed.
type Options struct {
	In  io.Reader
	Out io.Writer
	// Markdown renders model prose through glamour. Leave it off when Out
	// is not a terminal.
	Markdown bool
	// WordWrap is the glamour wrap width; 0 disables wrapping.
	WordWrap int
	// ToolOutput prints tool results in agent mode, not only their status.
	ToolOutput bool
}

type styles struct {
	prompt    lipgloss.Style
	command   lipgloss.Style
	safe      lipgloss.Style
	caution   lipgloss.Style
	dangerous lipgloss.Style
	muted     lipgloss.Style
	err       lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		prompt:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		command:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3")),
		safe:      r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		caution:   r.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		dangerous: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
		muted:     r.NewStyle().Faint(true),
		err:       r.NewStyle().Foreground(lipgloss.Color("#e53935")),
	}
}

// Terminal is the interactive REPL. It supplies the agent's callbacks, so
// build it first and pass Callbacks() into agent.New.
type Terminal struct {
	in         *bufio.Reader
	out        io.Writer
	renderer   *glamour.TermRenderer
	style      styles
	toolOutput bool

	questions   []llm.FollowUp
	lastWarning string

	// pending holds the read still in flight when a context was cancelled,
	// so the line is not lost to the next prompt.
	pending chan lineResult

	oneShot  bool
	failed   bool
	exitCode int
}

type lineResult struct {
	line string
	err  error
}

func New(opts Options) *Terminal {
	t := &Terminal{
		in:         bufio.NewReader(opts.In),
		out:        opts.Out,
		style:      newStyles(lipgloss.NewRenderer(opts.Out)),
		toolOutput: opts.ToolOutput,
	}
	if opts.Markdown {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(opts.WordWrap),
		); err == nil {
			t.renderer = r
		}
	}
	return t
}

// Callbacks wires the terminal into an agent.
func (t *Terminal) Callbacks() agent.ProcessCallbacks {
	return agent.ProcessCallbacks{
		OnCommand:       t.showCommand,
		OnExplanation:   t.showExplanation,
		OnClarification: t.showClarification,
		OnToolCall:      t.showToolCall,
		OnToolResult:    t.showToolResult,
		OnExecution:     t.showExecution,
		OnWarning:       t.showWarning,
		ConfirmCommand:  t.confirm,
	}
}

// Run submits initial, when set, and then reads lines until exit, quit or
// end of input. A session that terminates is reported and the next line
// starts a fresh one.
func (t *Terminal) Run(ctx context.Context, a *agent.Agent, initial string) error {
	if strings.TrimSpace(initial) != "" {
		if !t.handle(ctx, a, initial) {
			return nil
		}
	}
	for {
		line, err := t.readLine(ctx, t.style.prompt.Render("shellmind> "))
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				a.Stop()
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !t.handle(ctx, a, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Once handles a single query, including any follow-up questions and the
// confirmation prompt, and then stops the agent. It returns the exit status
// of the last command that ran: 0 when none ran, 1 when the session ended
// with an error.
func (t *Terminal) Once(ctx context.Context, a *agent.Agent, query string) int {
	t.oneShot, t.failed, t.exitCode = true, false, 0
	defer func() { t.oneShot = false }()

	t.handle(ctx, a, query)
	a.Stop()
	if t.failed {
		return 1
	}
	return t.exitCode
}

// handle processes one line and reports whether the REPL should go on.
func (t *Terminal) handle(ctx context.Context, a *agent.Agent, line string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "exit", "quit", "/exit", "/quit":
		a.Stop()
		return false
	}

	var err error
	if line == "/explain" || strings.HasPrefix(line, "/explain ") {
		err = a.Explain(ctx, strings.TrimPrefix(line, "/explain"))
	} else {
		err = a.Submit(ctx, line)
	}

	for err == nil && len(t.questions) > 0 {
		answers, aerr := t.collectAnswers(ctx)
		if aerr != nil {
			t.report(aerr)
			return false
		}
		if answers == "" {
			break
		}
		err = a.Submit(ctx, answers)
	}
	t.questions = nil

	if err != nil {
		t.report(err)
		if errors.Is(err, agent.ErrCancelled) && ctx.Err() != nil {
			return false
		}
	}
	return true
}

func (t *Terminal) report(err error) {
	t.failed = true
	switch {
	case errors.Is(err, agent.ErrNothingToExplain):
		t.printf("%s\n", t.style.err.Render("Nothing to explain yet. Use /explain <command>."))
	case errors.Is(err, agent.ErrBudgetExhausted):
		t.printf("%s\n", t.style.err.Render("Step limit reached; the session has ended."))
		if !t.oneShot {
			t.printf("%s\n", t.style.muted.Render("Your next message starts a new session."))
		}
	default:
		t.printf("%s\n", t.style.err.Render("Session ended: "+err.Error()))
		if !t.oneShot {
			t.printf("%s\n", t.style.muted.Render("Your next message starts a new session."))
		}
	}
}

// readLine prints prompt and waits for a line of input or for ctx to end.
// A read interrupted by ctx keeps running and its line is returned by the
// next call.
func (t *Terminal) readLine(ctx context.Context, prompt string) (string, error) {
	t.printf("%s", prompt)
	if t.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := t.in.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
		t.pending = ch
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-t.pending:
		t.pending = nil
		if r.err != nil && !(errors.Is(r.err, io.EOF) && r.line != "") {
			return "", r.err
		}
		return strings.TrimRight(r.line, "\r\n"), nil
	}
}

func (t *Terminal) printf(format string, a ...any) {
	fmt.Fprintf(t.out, format, a...)
}

func (t *Terminal) markdown(text string) string {
	if t.renderer == nil {
		return text
	}
	out, err := t.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func (t *Terminal) tierStyle(tier safety.Tier) lipgloss.Style {
	switch tier {
	case safety.Dangerous:
		return t.style.dangerous
	case safety.Caution:
		return t.style.caution
	}
	return t.style.safe
}

func (t *Terminal) showCommand(cmd safety.SynthesizedCommand, reply llm.CommandReply) {
	if reply.Content != "" {
		t.printf("%s\n", t.markdown(reply.Content))
	}
	t.printf("%s %s\n", t.style.command.Render("$ "+cmd.Text), t.tierStyle(cmd.Tier).Render("["+cmd.Tier.String()+"]"))
}

func (t *Terminal) showExplanation(reply llm.ExplanationReply) {
	t.printf("%s\n", t.markdown(reply.Content))
	if reply.Warning != "" {
		t.printf("%s\n", t.style.caution.Render("Warning: "+reply.Warning))
	}
}

func (t *Terminal) showClarification(reply llm.ClarificationReply) {
	if reply.Content != "" {
		t.printf("%s\n", t.markdown(reply.Content))
	}
	t.questions = append(t.questions, reply.Questions...)
}

func (t *Terminal) showWarning(warning string) {
	t.lastWarning = warning
	for _, line := range strings.Split(warning, "\n") {
		style := t.style.caution
		if strings.HasPrefix(line, "DANGEROUS") {
			style = t.style.dangerous
		}
		t.printf("%s\n", style.Render(line))
	}
}

func (t *Terminal) showToolCall(call session.ToolCall) {
	detail := ""
	if call.Name == tools.ShellExecName {
		detail = " " + tools.CommandFrom(call.Args)
	} else if q, ok := call.Args["query"].(string); ok {
		detail = " " + strconv.Quote(q)
	}
	t.printf("%s\n", t.style.muted.Render("→ "+call.Name+detail))
}

func (t *Terminal) showToolResult(call session.ToolCall, result session.ToolResult) {
	if result.Status == session.StatusFailure {
		t.printf("%s\n", t.style.err.Render("✗ "+call.Name+": "+result.Error))
		return
	}
	t.printf("%s\n", t.style.muted.Render("✓ "+call.Name))
	if t.toolOutput && result.Output != "" {
		t.printf("%s\n", result.Output)
	}
}

func (t *Terminal) showExecution(res tools.ExecResult, err error) {
	t.exitCode = res.ExitCode
	if t.exitCode < 0 || (err != nil && t.exitCode == 0) {
		t.exitCode = 1
	}
	if err != nil {
		t.printf("%s\n", t.style.err.Render("Error: "+err.Error()))
	}
	if err == nil || res.Stdout != "" || res.Stderr != "" {
		t.printf("%s\n", res.Format())
	}
}

func (t *Terminal) confirm(ctx context.Context, cmd safety.SynthesizedCommand, warning string) (bool, error) {
	if warning != "" && warning != t.lastWarning {
		t.showWarning(warning)
	}
	t.lastWarning = ""
	question := "Run this command? [y/N] "
	if cmd.Tier == safety.Dangerous {
		question = "Run this DANGEROUS command? [y/N] "
	}
	answer, err := t.readLine(ctx, t.style.command.Render("$ "+cmd.Text)+"\n"+question)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// collectAnswers asks each pending follow-up question and formats the
// answers as one user turn. A numeric answer picks the matching option.
// It returns "" when every answer is blank.
func (t *Terminal) collectAnswers(ctx context.Context) (string, error) {
	questions := t.questions
	t.questions = nil

	var b strings.Builder
	answered := false
	for _, q := range questions {
		t.printf("%s\n", t.style.command.Render(q.Question))
		for i, opt := range q.Options {
			t.printf("  %d) %s\n", i+1, opt)
		}
		answer, err := t.readLine(ctx, "> ")
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(q.Options) {
			answer = q.Options[n-1]
		}
		if answer != "" {
			answered = true
		}
		fmt.Fprintf(&b, "\n%s %s", q.Question, answer)
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if !answered {
		return "", nil
	}
	return FollowUpPrefix + b.String(), nil
}
