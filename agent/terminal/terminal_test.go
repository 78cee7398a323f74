package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/shellmind/agent"
	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/llm"
	"github.com/m4xw311/shellmind/prompt"
	"github.com/m4xw311/shellmind/safety"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	commands []string
	exitCode int
}

func (f *fakeRunner) Run(ctx context.Context, command string) (tools.ExecResult, error) {
	f.commands = append(f.commands, command)
	return tools.ExecResult{Command: command, Stdout: "CONTAINER ID   IMAGE\n", ExitCode: f.exitCode}, nil
}

type fixture struct {
	term   *Terminal
	agent  *agent.Agent
	client *llm.ScriptedClient
	runner *fakeRunner
	out    *bytes.Buffer
}

func newFixture(t *testing.T, input string, mode session.Mode, steps ...llm.ScriptStep) *fixture {
	t.Helper()
	return newFixtureReading(t, strings.NewReader(input), mode, steps...)
}

func newFixtureReading(t *testing.T, in io.Reader, mode session.Mode, steps ...llm.ScriptStep) *fixture {
	t.Helper()
	f := &fixture{
		client: llm.NewScriptedClient(steps...),
		runner: &fakeRunner{},
		out:    &bytes.Buffer{},
	}
	f.term = New(Options{In: in, Out: f.out})

	classifier, err := safety.NewDefault("")
	require.NoError(t, err)
	gateway := llm.NewGateway(f.client, config.LLMConfig{Provider: "mock", Timeout: time.Second}, nil)
	f.agent, err = agent.New(agent.Config{Mode: mode, BackoffInitial: time.Millisecond}, agent.Deps{
		Gateway:    gateway,
		Builder:    prompt.NewBuilder("", prompt.DefaultWindow),
		Classifier: classifier,
		Runner:     f.runner,
		Callbacks:  f.term.Callbacks(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, initial string) {
	t.Helper()
	require.NoError(t, f.term.Run(context.Background(), f.agent, initial))
}

func TestRunConfirmsAndExecutesCommand(t *testing.T) {
	f := newFixture(t, "list all docker containers\ny\nexit\n", session.ModeDefault,
		llm.Text(`{"output":{"content":"Lists every container.","command":"docker ps -a"}}`))

	f.run(t, "")

	assert.Equal(t, []string{"docker ps -a"}, f.runner.commands)
	out := f.out.String()
	assert.Contains(t, out, "Lists every container.")
	assert.Contains(t, out, "$ docker ps -a [safe]")
	assert.Contains(t, out, "Run this command? [y/N]")
	assert.Contains(t, out, "Exit code: 0")
	assert.Contains(t, out, "CONTAINER ID")
	assert.Equal(t, agent.Terminated, f.agent.State())
	assert.ErrorIs(t, f.agent.Err(), agent.ErrExit)
}

func TestRunDeclineIsTheDefault(t *testing.T) {
	f := newFixture(t, "clean the build\n\n", session.ModeDefault,
		llm.Text(`{"output":{"command":"rm -rf ./build","warning":"removes build output"}}`))

	f.run(t, "")

	assert.Empty(t, f.runner.commands)
	out := f.out.String()
	assert.Contains(t, out, "DANGEROUS")
	assert.Contains(t, out, "removes build output")
	assert.Contains(t, out, "Run this DANGEROUS command? [y/N]")
	turns := f.agent.Session().Memory.Turns()
	assert.Equal(t, "declined: rm -rf ./build", turns[2].Content)
}

func TestInitialQueryIsSubmittedFirst(t *testing.T) {
	f := newFixture(t, "n\n", session.ModeDefault,
		llm.Text(`{"output":{"command":"df -h"}}`))

	f.run(t, "disk usage")

	reqs := f.client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "disk usage", reqs[0].Turns[0].Content)
	assert.Empty(t, f.runner.commands)
}

func TestFollowUpAnswersAreSubmittedTogether(t *testing.T) {
	f := newFixture(t, "delete all logs\n2\n7 days\nquit\n", session.ModeDefault,
		llm.Text(`{"output":{"content":"A few details first."},"follow_ups":[`+
			`{"question":"Which logs?","options":["app","system"]},`+
			`{"question":"Older than how long?"}]}`),
		llm.Text(`{"output":{"content":"Understood, I will target system logs."}}`),
	)

	f.run(t, "")

	out := f.out.String()
	assert.Contains(t, out, "A few details first.")
	assert.Contains(t, out, "  1) app\n  2) system")

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	turns := reqs[1].Turns
	last := turns[len(turns)-1]
	assert.Equal(t, session.RoleUser, last.Role)
	assert.Equal(t, FollowUpPrefix+"\nWhich logs? system\nOlder than how long? 7 days", last.Content)
	assert.Contains(t, out, "Understood, I will target system logs.")
}

func TestExplainCommands(t *testing.T) {
	f := newFixture(t, "/explain\n/explain tar -xzf site.tgz\nexit\n", session.ModeDefault,
		llm.Text(`{"output":{"content":"Extracts a gzip tarball.","command":"tar -xzf site.tgz"}}`))

	f.run(t, "")

	out := f.out.String()
	assert.Contains(t, out, "Nothing to explain yet")
	assert.Contains(t, out, "Extracts a gzip tarball.")
	assert.NotContains(t, out, "Run this command?")
	assert.Empty(t, f.runner.commands)
	assert.Equal(t, "Explain this command:\ntar -xzf site.tgz", f.client.Requests()[0].Turns[0].Content)
}

func TestFatalErrorStartsFreshSession(t *testing.T) {
	f := newFixture(t, "first\nsecond\n", session.ModeDefault,
		llm.Fail(errors.New("invalid api key")),
		llm.Text(`{"output":{"content":"Hello."}}`),
	)

	f.run(t, "")

	out := f.out.String()
	assert.Contains(t, out, "Session ended: fatal error from mock")
	assert.Contains(t, out, "Your next message starts a new session.")
	assert.Contains(t, out, "Hello.")
	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Turns, 1)
	assert.Equal(t, "second", reqs[1].Turns[0].Content)
}

func TestAgentModeShowsToolActivity(t *testing.T) {
	f := newFixture(t, "what kernel is this\ny\n", session.ModeAgent,
		llm.Calls(session.ToolCall{ID: "c1", Name: tools.ShellExecName, Args: map[string]any{"command": "uname -r"}}),
		llm.Text(`{"output":{"content":"You are on the kernel shown above."}}`),
	)
	registry := tools.NewRegistry(nil)
	require.NoError(t, registry.Register(tools.NewShellExecTool(f.runner, nil)))
	classifier, err := safety.NewDefault("")
	require.NoError(t, err)
	f.agent, err = agent.New(agent.Config{Mode: session.ModeAgent}, agent.Deps{
		Gateway:    llm.NewGateway(f.client, config.LLMConfig{Provider: "mock"}, nil),
		Registry:   registry,
		Classifier: classifier,
		Runner:     f.runner,
		Callbacks:  f.term.Callbacks(),
	})
	require.NoError(t, err)

	f.run(t, "")

	out := f.out.String()
	assert.Contains(t, out, "→ shell-exec uname -r")
	assert.Contains(t, out, "✓ shell-exec")
	assert.Contains(t, out, "You are on the kernel shown above.")
	assert.Equal(t, []string{"uname -r"}, f.runner.commands)
}

func TestMarkdownRendering(t *testing.T) {
	term := New(Options{In: strings.NewReader(""), Out: &bytes.Buffer{}, Markdown: true, WordWrap: 80})
	require.NotNil(t, term.renderer)
	assert.Contains(t, term.markdown("**bold** text"), "bold")

	plain := New(Options{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	assert.Equal(t, "**bold** text", plain.markdown("**bold** text"))
}

func TestOnceReturnsCommandExitCode(t *testing.T) {
	f := newFixture(t, "y\n", session.ModeDefault,
		llm.Text(`{"output":{"command":"make test"}}`))
	f.runner.exitCode = 3

	code := f.term.Once(context.Background(), f.agent, "run the tests")

	assert.Equal(t, 3, code)
	assert.Equal(t, []string{"make test"}, f.runner.commands)
	assert.Equal(t, agent.Terminated, f.agent.State())
	assert.NotContains(t, f.out.String(), "shellmind> ")
}

func TestOnceWithoutCommandSucceeds(t *testing.T) {
	f := newFixture(t, "", session.ModeDefault,
		llm.Text(`{"output":{"content":"Nothing to run."}}`))

	assert.Equal(t, 0, f.term.Once(context.Background(), f.agent, "hello"))
	assert.Contains(t, f.out.String(), "Nothing to run.")
}

func TestOnceReportsSessionFailure(t *testing.T) {
	f := newFixture(t, "", session.ModeDefault,
		llm.Fail(errors.New("invalid api key")))

	assert.Equal(t, 1, f.term.Once(context.Background(), f.agent, "hello"))
	out := f.out.String()
	assert.Contains(t, out, "Session ended:")
	assert.NotContains(t, out, "Your next message starts a new session.")
}

func TestTransientFailuresEndInOneMessage(t *testing.T) {
	f := newFixture(t, "", session.ModeDefault,
		llm.Fail(errors.New("connection reset by peer")),
		llm.Fail(errors.New("connection reset by peer")),
		llm.Fail(errors.New("connection reset by peer")),
	)

	f.run(t, "check the disk")

	require.Len(t, f.client.Requests(), 3)
	out := f.out.String()
	assert.Equal(t, 1, strings.Count(out, "Session ended:"), out)
	assert.NotContains(t, out, "retrying")
	assert.NotContains(t, out, "attempt 1")
}

func TestRunReturnsWhenContextEndsWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	f := newFixtureReading(t, pr, session.ModeDefault)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.term.Run(ctx, f.agent, "") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting for input after the context ended")
	}
	assert.Equal(t, agent.Terminated, f.agent.State())
	assert.Empty(t, f.client.Requests())
}

func TestInterruptedReadKeepsTheLine(t *testing.T) {
	pr, pw := io.Pipe()
	term := New(Options{In: pr, Out: &bytes.Buffer{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := term.readLine(ctx, "> ")
	require.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = io.WriteString(pw, "hello\n") }()
	line, err := term.readLine(context.Background(), "> ")
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
	require.NoError(t, pw.Close())
}
