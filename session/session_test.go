package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStampsAndDefaultsKind(t *testing.T) {
	m := NewMemory()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	got := m.Append(Turn{Role: RoleUser, Content: "list pods"})
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, KindMessage, got.Kind)
	assert.Equal(t, 1, m.Len())
}

func TestWindowReturnsTrailingCopies(t *testing.T) {
	m := NewMemory()
	for _, c := range []string{"a", "b", "c", "d"} {
		m.Append(Turn{Role: RoleUser, Content: c})
	}

	w := m.Window(2)
	require.Len(t, w, 2)
	assert.Equal(t, "c", w[0].Content)
	assert.Equal(t, "d", w[1].Content)

	w[0].Content = "mutated"
	assert.Equal(t, "c", m.Turns()[2].Content)

	assert.Len(t, m.Window(10), 4)
	assert.Empty(t, m.Window(0))
}

func TestAppendedTurnsAreIsolatedFromCaller(t *testing.T) {
	m := NewMemory()
	args := map[string]any{"query": "nginx"}
	calls := []ToolCall{{ID: "call_1", Name: "web-search", Args: args}}
	m.Append(Turn{Role: RoleAssistant, ToolCalls: calls})

	args["query"] = "changed"
	calls[0].ID = "changed"

	stored := m.Turns()[0]
	assert.Equal(t, "call_1", stored.ToolCalls[0].ID)
	assert.Equal(t, "nginx", stored.ToolCalls[0].Args["query"])
}

func TestLastFindsMostRecentMatch(t *testing.T) {
	m := NewMemory()
	m.Append(Turn{Role: RoleAssistant, Kind: KindExecution, Content: "ls"})
	m.Append(Turn{Role: RoleUser, Content: "thanks"})
	m.Append(Turn{Role: RoleAssistant, Kind: KindExecution, Content: "df -h"})

	got, ok := m.Last(func(t Turn) bool { return t.Kind == KindExecution })
	require.True(t, ok)
	assert.Equal(t, "df -h", got.Content)

	_, ok = m.Last(func(t Turn) bool { return t.Role == RoleTool })
	assert.False(t, ok)
}

func TestStepBudget(t *testing.T) {
	s := New(ModeAgent, 2)
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.BudgetExhausted())
	s.Advance()
	s.Advance()
	assert.True(t, s.BudgetExhausted())
	assert.Equal(t, 2, s.StepCount)
}

func TestClaimCallID(t *testing.T) {
	s := New(ModeAgent, 30)
	assert.True(t, s.ClaimCallID("call_1"))
	assert.False(t, s.ClaimCallID("call_1"))
	assert.False(t, s.ClaimCallID(""))
	assert.NotEqual(t, s.ID, New(ModeAgent, 30).ID)
}

func TestToolResultText(t *testing.T) {
	assert.Equal(t, "ok", Success("c", "ok").Text())
	assert.Equal(t, "Error: cancelled", Failure("c", "cancelled").Text())
}
