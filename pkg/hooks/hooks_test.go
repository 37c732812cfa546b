package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerBeforeToolCall_NoHooks(t *testing.T) {
	m := New()
	blocked, reason, err := m.TriggerBeforeToolCall(context.Background(), "bash", nil)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Empty(t, reason)
}

func TestTriggerBeforeToolCall_Blocks(t *testing.T) {
	m := New()
	m.RegisterBeforeToolCall(func(ctx context.Context, toolName string, input []byte) (bool, string, error) {
		return toolName == "bash", "bash is disabled by policy", nil
	})

	blocked, reason, err := m.TriggerBeforeToolCall(context.Background(), "bash", nil)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, "bash is disabled by policy", reason)

	blocked, _, err = m.TriggerBeforeToolCall(context.Background(), "file_read", nil)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestTriggerBeforeToolCall_StopsAtFirstBlock(t *testing.T) {
	m := New()
	var secondCalled bool
	m.RegisterBeforeToolCall(func(ctx context.Context, toolName string, input []byte) (bool, string, error) {
		return true, "blocked by first", nil
	})
	m.RegisterBeforeToolCall(func(ctx context.Context, toolName string, input []byte) (bool, string, error) {
		secondCalled = true
		return false, "", nil
	})

	blocked, reason, err := m.TriggerBeforeToolCall(context.Background(), "bash", nil)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, "blocked by first", reason)
	assert.False(t, secondCalled)
}

func TestTriggerAfterToolCall(t *testing.T) {
	m := New()
	var gotTool, gotOutcome string
	m.RegisterAfterToolCall(func(ctx context.Context, toolName, outcome string) {
		gotTool, gotOutcome = toolName, outcome
	})

	m.TriggerAfterToolCall(context.Background(), "bash", "success")
	assert.Equal(t, "bash", gotTool)
	assert.Equal(t, "success", gotOutcome)
}

func TestTriggerAfterTurn(t *testing.T) {
	m := New()
	var gotThread string
	m.RegisterAfterTurn(func(ctx context.Context, threadID string) {
		gotThread = threadID
	})

	m.TriggerAfterTurn(context.Background(), "thread-1")
	assert.Equal(t, "thread-1", gotThread)
}

func TestHasHooks(t *testing.T) {
	m := New()
	assert.False(t, m.HasHooks(HookTypeBeforeToolCall))

	m.RegisterBeforeToolCall(func(ctx context.Context, toolName string, input []byte) (bool, string, error) {
		return false, "", nil
	})
	assert.True(t, m.HasHooks(HookTypeBeforeToolCall))
	assert.False(t, m.HasHooks(HookTypeAfterTurn))
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	blocked, reason, err := m.TriggerBeforeToolCall(context.Background(), "bash", nil)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Empty(t, reason)

	m.TriggerAfterToolCall(context.Background(), "bash", "success")
	m.TriggerAfterTurn(context.Background(), "thread-1")
	assert.False(t, m.HasHooks(HookTypeBeforeToolCall))
}
