package tools

import (
	"context"
	"testing"

	"github.com/m4xw311/shellmind/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const psListing = `USER         PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND
root           1  0.0  0.1 167744 11520 ?        Ss   09:12   0:02 /sbin/init
www-data     812  0.3  1.2 225312 98304 ?        S    09:13   1:04 nginx: worker process
root         801  0.0  0.2  55280  6144 ?        Ss   09:13   0:00 nginx: master process /usr/sbin/nginx
alice       4242  0.0  0.0  10072  3328 pts/0    R+   11:02   0:00 ps aux
`

type listingRunner struct {
	result   ExecResult
	commands []string
}

func (r *listingRunner) Run(ctx context.Context, command string) (ExecResult, error) {
	r.commands = append(r.commands, command)
	return r.result, nil
}

func TestProcessCheckToolFindsMatches(t *testing.T) {
	runner := &listingRunner{result: ExecResult{Stdout: psListing}}
	tool := NewProcessCheckTool(runner)

	out, err := tool.Execute(context.Background(), map[string]any{"name": "NGINX"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ps aux"}, runner.commands)
	assert.Contains(t, out, "Found 2 processes matching 'NGINX':")
	assert.Contains(t, out, "USER         PID")
	assert.Contains(t, out, "nginx: worker process")
	assert.Contains(t, out, "nginx: master process")
	assert.NotContains(t, out, "/sbin/init")
}

func TestProcessCheckToolNoMatch(t *testing.T) {
	tool := NewProcessCheckTool(&listingRunner{result: ExecResult{Stdout: psListing}})

	out, err := tool.Execute(context.Background(), map[string]any{"name": "postgres"})
	require.NoError(t, err)
	assert.Equal(t, "No running process matches 'postgres'.", out)

	out, err = tool.Execute(context.Background(), map[string]any{"name": "ps"})
	require.NoError(t, err)
	assert.NotContains(t, out, "ps aux")
}

func TestProcessCheckToolListingFailure(t *testing.T) {
	tool := NewProcessCheckTool(&listingRunner{result: ExecResult{ExitCode: 1, Stderr: "ps: not permitted"}})

	_, err := tool.Execute(context.Background(), map[string]any{"name": "nginx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
}

func TestProcessCheckToolThroughRegistry(t *testing.T) {
	runner := &listingRunner{result: ExecResult{Stdout: psListing}}
	r, err := NewDefaultRegistry(BuiltinOptions{Runner: runner}, nil)
	require.NoError(t, err)

	res := r.Invoke(context.Background(), session.ToolCall{ID: "p1", Name: ProcessCheckName, Args: map[string]any{"name": "nginx"}})
	require.Equal(t, session.StatusSuccess, res.Status, res.Error)
	assert.Contains(t, res.Output, "Found 2 processes")

	res = r.Invoke(context.Background(), session.ToolCall{ID: "p2", Name: ProcessCheckName, Args: map[string]any{}})
	assert.Equal(t, session.StatusFailure, res.Status)
	assert.Contains(t, res.Error, "schema validation failed")
}
