package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnnotatesCaller(t *testing.T) {
	err := New("bad value %d", 42)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "bad value 42")
}

func TestWrapfKeepsChain(t *testing.T) {
	base := Sentinel("boom")
	wrapped := Wrapf(base, "loading %s", "config")

	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "loading config: boom")
	assert.Nil(t, Wrapf(nil, "ignored"))
}

type codeErr struct{ code int }

func (c *codeErr) Error() string { return "code" }

func TestAsAndJoin(t *testing.T) {
	joined := Join(Sentinel("first"), &codeErr{code: 7}, nil)

	var ce *codeErr
	require.True(t, As(joined, &ce))
	assert.Equal(t, 7, ce.code)
	assert.Nil(t, Join(nil, nil))
}
