package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m4xw311/shellmind/errors"
	"github.com/openai/openai-go/v2"
	"google.golang.org/api/googleapi"
)

// ErrorKind separates failures worth retrying from those that are not.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Fatal
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// GatewayError is the only error type Synthesize returns.
type GatewayError struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error from %s", e.Kind, e.Provider)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a GatewayError that may succeed on retry.
func IsTransient(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Kind == Transient
}

func fatalf(provider, format string, a ...any) *GatewayError {
	return &GatewayError{Kind: Fatal, Provider: provider, Err: errors.New(format, a...)}
}

// classifyError maps a provider failure onto the gateway taxonomy.
func classifyError(provider string, err error) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	out := &GatewayError{Kind: Fatal, Provider: provider, Err: err}
	if status := statusCode(err); status != 0 {
		out.Status = status
		out.Kind = kindForStatus(status)
		return out
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = Transient
		return out
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		out.Kind = Transient
		return out
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		out.Kind = Transient
		return out
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection reset", "connection refused", "eof", "unavailable", "resource exhausted", "rate limit", "timeout"} {
		if strings.Contains(msg, hint) {
			out.Kind = Transient
			break
		}
	}
	return out
}

func statusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	// AWS SDK response errors.
	var awsErr interface{ HTTPStatusCode() int }
	if errors.As(err, &awsErr) {
		return awsErr.HTTPStatusCode()
	}
	// Google API call errors.
	var apiErr interface{ HTTPCode() int }
	if errors.As(err, &apiErr) && apiErr.HTTPCode() > 0 {
		return apiErr.HTTPCode()
	}
	return 0
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	default:
		return Fatal
	}
}
