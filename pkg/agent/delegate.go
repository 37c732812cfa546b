package agent

import (
	"context"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/events"
)

// Summary is what Delegate returns to its caller: the child's final
// AGENT_MESSAGE text plus the child's thread so a caller can still query
// it by canonical_id after the parent's turn moves on.
type Summary struct {
	Text          string
	ChildThreadID string
	CanonicalID   string
}

// Delegate creates a child thread via the ThreadManager, constructs a new
// Agent over it sharing this Agent's ToolExecutor/Registry/EventStore but
// under constraints' (possibly reduced) tool whitelist and provider/model
// selection, drives it to CONVERSATION_COMPLETE on task, and returns its
// final AGENT_MESSAGE as the summary. The child Agent never holds a
// back-reference to this one — Deps is the only thing shared.
func (a *Agent) Delegate(ctx context.Context, task string, constraints DelegateConstraints) (Summary, error) {
	parentThreadID := a.ThreadID()

	child, err := a.deps.Manager.CreateChildThread(ctx, parentThreadID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "create delegate child thread")
	}

	childDeps := a.deps
	childDeps.Compactor = nil // delegate children run to completion, never self-compact

	// Start from the parent's config so timeouts, budget thresholds, and
	// tail-carry settings a delegate child never constrains still have
	// sane values, then layer the constraints on top.
	childCfg := a.cfg
	childCfg.Tools = constraints.Tools
	childCfg.SystemPrompt = constraints.SystemPrompt
	if constraints.ProviderSelector != "" {
		childCfg.ProviderSelector = constraints.ProviderSelector
	}
	if constraints.Model != "" {
		childCfg.Model = constraints.Model
	}
	if constraints.MaxToolIterationsPerTurn != 0 {
		childCfg.MaxToolIterationsPerTurn = constraints.MaxToolIterationsPerTurn
	}

	if childCfg.ProviderSelector != a.cfg.ProviderSelector || childCfg.Model != a.cfg.Model {
		if a.deps.ProviderResolver == nil {
			return Summary{}, errors.Errorf(
				"delegate requested provider_selector=%q model=%q but no ProviderResolver is configured",
				childCfg.ProviderSelector, childCfg.Model)
		}
		childProvider, err := a.deps.ProviderResolver(childCfg.ProviderSelector, childCfg.Model)
		if err != nil {
			return Summary{}, errors.Wrap(err, "resolve delegate provider")
		}
		childDeps.Provider = childProvider
	}

	childAgent := New(child.ThreadID, childDeps, childCfg)

	if err := childAgent.SendMessage(ctx, task); err != nil {
		return Summary{}, errors.Wrap(err, "delegate child turn")
	}

	summaryText, err := a.lastAgentMessageText(ctx, childAgent.ThreadID())
	if err != nil {
		return Summary{}, errors.Wrap(err, "extract delegate summary")
	}

	return Summary{
		Text:          summaryText,
		ChildThreadID: childAgent.ThreadID(),
		CanonicalID:   child.CanonicalID,
	}, nil
}

func (a *Agent) lastAgentMessageText(ctx context.Context, threadID string) (string, error) {
	messages, err := a.deps.Manager.Messages(ctx, threadID)
	if err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != events.RoleAssistant {
			continue
		}
		var text string
		for _, b := range messages[i].Content {
			if b.Kind == events.ContentText {
				text += b.Text
			}
		}
		return text, nil
	}
	return "", nil
}
