package agent

import (
	"context"

	"github.com/m4xw311/shellmind/safety"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// stepDispatch runs one round of tool calls. Shell commands that need the
// user's consent are confirmed one by one in call order before anything
// runs; the round then executes concurrently up to the configured limit.
// Results are appended in call order only after every call has finished,
// so the next reasoning step sees the whole round.
func (a *Agent) stepDispatch(ctx context.Context) {
	calls := a.calls
	results := make([]session.ToolResult, len(calls))
	resolved := make([]bool, len(calls))
	runCtx := ctx

	for i, call := range calls {
		if a.callbacks.OnToolCall != nil {
			a.callbacks.OnToolCall(call)
		}
		if call.Name != tools.ShellExecName {
			continue
		}
		command := tools.CommandFrom(call.Args)
		if command == "" {
			continue
		}
		cmd, _ := a.classifier.Classify(command)
		if !a.policy.RequiresConfirmation(cmd.Tier) {
			continue
		}
		ok := a.confirm(ctx, cmd, safety.Warning(cmd))
		if ctx.Err() != nil {
			a.cancel()
			return
		}
		a.recordConfirmation(command, ok)
		if !ok {
			results[i] = session.Failure(call.ID, "declined by the user")
			resolved[i] = true
			continue
		}
		if cmd.Tier == safety.Dangerous {
			runCtx = tools.WithApproval(runCtx, command)
		}
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.ToolConcurrency)
	for i, call := range calls {
		if resolved[i] {
			continue
		}
		g.Go(func() error {
			results[i] = a.registry.Invoke(runCtx, call)
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range calls {
		res := results[i]
		if res.CallID == "" {
			res = session.Failure(call.ID, "cancelled")
		}
		a.appendResult(call, res)
	}
	a.calls = nil
	a.logger.Debug("tool round finished", zap.Int("calls", len(calls)))

	if ctx.Err() != nil {
		a.terminate(ErrCancelled)
		return
	}
	a.pending = true
	a.transition(AwaitingInput)
}

func (a *Agent) appendResult(call session.ToolCall, res session.ToolResult) {
	a.sess.Memory.Append(session.Turn{
		Role:     session.RoleTool,
		CallID:   call.ID,
		ToolName: call.Name,
		Content:  res.Text(),
		Failed:   res.Status == session.StatusFailure,
	})
	if a.callbacks.OnToolResult != nil {
		a.callbacks.OnToolResult(call, res)
	}
}
