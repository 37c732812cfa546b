package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/types/provider"
)

func echoAdapter(text string) *scriptedAdapter {
	return &scriptedAdapter{responses: [][]provider.Event{
		{
			{Kind: provider.EventTextDelta, Text: text},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}
}

// Delegating without naming a different provider/model reuses the
// parent's adapter and needs no ProviderResolver.
func TestAgent_Delegate_SameProviderReusesParentAdapter(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)

	parentAdapter := echoAdapter("parent turn")
	parent := New(threadID, h.deps(parentAdapter), Config{ProviderSelector: "anthropic", Model: "claude-x"})

	summary, err := parent.Delegate(context.Background(), "do the thing", DelegateConstraints{})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.ChildThreadID)
}

// Delegating with a different provider_selector/model than the parent
// fails loudly when no ProviderResolver is configured, instead of
// silently running the child on the parent's adapter.
func TestAgent_Delegate_DifferentModelWithoutResolverErrors(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)

	parentAdapter := echoAdapter("parent turn")
	parent := New(threadID, h.deps(parentAdapter), Config{ProviderSelector: "anthropic", Model: "claude-big"})

	_, err := parent.Delegate(context.Background(), "do the thing", DelegateConstraints{Model: "claude-small"})
	require.Error(t, err)
}

// A configured ProviderResolver lets Delegate swap in a distinct
// adapter for a child asking for a different provider/model.
func TestAgent_Delegate_DifferentModelWithResolverSwapsAdapter(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)

	parentAdapter := echoAdapter("parent turn")
	childAdapter := echoAdapter("child turn")

	deps := h.deps(parentAdapter)
	var resolvedSelector, resolvedModel string
	deps.ProviderResolver = func(selector, model string) (provider.Adapter, error) {
		resolvedSelector, resolvedModel = selector, model
		return childAdapter, nil
	}

	parent := New(threadID, deps, Config{ProviderSelector: "anthropic", Model: "claude-big"})

	summary, err := parent.Delegate(context.Background(), "do the cheap thing", DelegateConstraints{
		ProviderSelector: "anthropic",
		Model:            "claude-small",
	})
	require.NoError(t, err)
	assert.Equal(t, "child turn", summary.Text)
	assert.Equal(t, "anthropic", resolvedSelector)
	assert.Equal(t, "claude-small", resolvedModel)
	assert.Equal(t, 0, parentAdapter.calls, "the parent's adapter must not be used for the delegated turn")
	assert.Equal(t, 1, childAdapter.calls)
}
