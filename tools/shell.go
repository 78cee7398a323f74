package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/safety"
)

const ShellExecName = "shell-exec"

// ExecResult is what the host shell produced for one command. A non-zero
// ExitCode is a normal outcome.
type ExecResult struct {
	Command   string
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
}

// Format renders the result the way it is shown to both the user and the
// model.
func (r ExecResult) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\n", r.ExitCode)
	if r.Stdout != "" {
		b.WriteString("STDOUT:\n")
		b.WriteString(strings.TrimRight(r.Stdout, "\n"))
		b.WriteString("\n")
	}
	if r.Stderr != "" {
		b.WriteString("STDERR:\n")
		b.WriteString(strings.TrimRight(r.Stderr, "\n"))
		b.WriteString("\n")
	}
	if r.Truncated {
		b.WriteString("[output truncated]\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Runner executes a shell command string on the host.
type Runner interface {
	Run(ctx context.Context, command string) (ExecResult, error)
}

// ErrTimeout is returned when a command exceeds its time limit.
var ErrTimeout = errors.Sentinel("command timed out")

// ShellRunner runs commands through sh -c, or cmd /C on Windows.
type ShellRunner struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Dir            string
}

func NewShellRunner(timeout time.Duration, maxOutputBytes int) *ShellRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = 10 * 1024
	}
	return &ShellRunner{Timeout: timeout, MaxOutputBytes: maxOutputBytes}
}

func (s *ShellRunner) Run(ctx context.Context, command string) (ExecResult, error) {
	result := ExecResult{Command: command, ExitCode: -1}

	execCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}
	cmd.Dir = s.Dir
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: int64(s.MaxOutputBytes)}
	stderr := &limitedWriter{w: &stderrBuf, max: int64(s.MaxOutputBytes)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdout.truncated || stderr.truncated

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return result, errors.Wrapf(ErrTimeout, "%s after %s", command, s.Timeout)
		}
		if ctx.Err() != nil {
			return result, errors.Wrapf(ctx.Err(), "command interrupted")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, errors.Wrapf(err, "failed to start command")
	}
	result.ExitCode = 0
	return result, nil
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// ShellExecTool runs a command on the host after checking its risk tier.
// Dangerous commands need an approval on the context.
type ShellExecTool struct {
	runner     Runner
	classifier *safety.Classifier
}

func NewShellExecTool(runner Runner, classifier *safety.Classifier) *ShellExecTool {
	return &ShellExecTool{runner: runner, classifier: classifier}
}

func (t *ShellExecTool) Name() string { return ShellExecName }

func (t *ShellExecTool) Description() string {
	return "Runs a shell command on the user's machine and returns its exit code, stdout and stderr. " +
		"Every command is risk-classified; dangerous commands require the user's confirmation. " +
		"Prefer read-only commands when gathering information."
}

func (t *ShellExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The exact command line to run.",
				"minLength":   1,
			},
		},
		"required":             []any{"command"},
		"additionalProperties": false,
	}
}

func (t *ShellExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}
	if t.classifier != nil {
		classified, _ := t.classifier.Classify(command)
		if classified.Tier == safety.Dangerous && !Approved(ctx, command) {
			return "", errors.New("command rejected: classified as dangerous (%s) and not confirmed by the user", classified.Rationale)
		}
	}
	res, err := t.runner.Run(ctx, command)
	if err != nil {
		return "", err
	}
	return res.Format(), nil
}

// CommandFrom extracts the command argument of a shell-exec call.
func CommandFrom(call map[string]any) string {
	s, _ := stringArg(call, "command")
	return s
}
