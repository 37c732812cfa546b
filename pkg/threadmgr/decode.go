package threadmgr

import "github.com/laceai/lace/pkg/types/events"

// genericUnit is one event's contribution to the reconstructed message
// history. merge instructs appendGeneric to fold it into the previous
// message instead of starting a new one, when the previous message has
// the same role — this is how a TOOL_CALL event (emitted right after the
// AGENT_MESSAGE that requested it) ends up as an extra content block on
// the same assistant message instead of its own turn, and how consecutive
// TOOL_RESULT events collapse into a single tool_result message the way a
// provider expects.
type genericUnit struct {
	message events.GenericMessage
	merge   bool
}

// decode converts one ThreadEvent into its GenericMessage contribution.
// ok is false for events that carry no conversational content
// (COMPACTION_MARKER).
func decode(ev events.ThreadEvent) (genericUnit, bool, error) {
	switch ev.Kind {
	case events.KindSystemPrompt:
		p, err := events.DecodeSystemPrompt(ev)
		if err != nil {
			return genericUnit{}, false, err
		}
		return genericUnit{message: events.GenericMessage{
			Role:    events.RoleSystem,
			Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: p.Text}},
		}}, true, nil

	case events.KindUserMessage:
		p, err := events.DecodeUserMessage(ev)
		if err != nil {
			return genericUnit{}, false, err
		}
		return genericUnit{message: events.GenericMessage{
			Role:    events.RoleUser,
			Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: p.Text}},
		}}, true, nil

	case events.KindAgentMessage:
		p, err := events.DecodeAgentMessage(ev)
		if err != nil {
			return genericUnit{}, false, err
		}
		return genericUnit{message: events.GenericMessage{
			Role:    events.RoleAssistant,
			Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: p.Text}},
		}}, true, nil

	case events.KindToolCall:
		p, err := events.DecodeToolCall(ev)
		if err != nil {
			return genericUnit{}, false, err
		}
		return genericUnit{
			merge: true,
			message: events.GenericMessage{
				Role: events.RoleAssistant,
				Content: []events.GenericContentBlock{{
					Kind:     events.ContentToolUse,
					CallID:   p.CallID,
					ToolName: p.ToolName,
					Input:    p.Input,
				}},
			},
		}, true, nil

	case events.KindToolResult:
		p, err := events.DecodeToolResult(ev)
		if err != nil {
			return genericUnit{}, false, err
		}
		return genericUnit{
			merge: true,
			message: events.GenericMessage{
				Role: events.RoleToolResult,
				Content: []events.GenericContentBlock{{
					Kind:          events.ContentToolResu,
					CallID:        p.CallID,
					ResultOutcome: p.Outcome,
					ResultContent: p.Content,
				}},
			},
		}, true, nil

	case events.KindCompactionMarker:
		return genericUnit{}, false, nil

	default:
		return genericUnit{}, false, nil
	}
}
