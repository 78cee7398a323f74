package agent

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/llm"
	"github.com/m4xw311/shellmind/prompt"
	"go.uber.org/zap"
)

// synthesize calls the gateway, retrying transient failures with
// exponential backoff. Once the attempts are used up the last transient
// error is reported as fatal, carrying the attempt count.
func (a *Agent) synthesize(ctx context.Context, p prompt.Payload) (llm.Reply, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.BackoffInitial
	b.MaxInterval = a.cfg.BackoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.MaxAttempts-1)), ctx)

	var (
		reply   llm.Reply
		attempt int
	)
	op := func() error {
		attempt++
		r, err := a.gateway.Synthesize(ctx, p)
		if err != nil {
			if llm.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		reply = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("retrying model call", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if a.callbacks.OnRetry != nil {
			a.callbacks.OnRetry(attempt, err)
		}
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var gerr *llm.GatewayError
	if errors.As(err, &gerr) && gerr.Kind == llm.Transient {
		return nil, &llm.GatewayError{
			Kind:     llm.Fatal,
			Provider: gerr.Provider,
			Status:   gerr.Status,
			Attempts: attempt,
			Err:      gerr.Err,
		}
	}
	return nil, err
}
