// Package anthropic implements provider.Adapter on top of
// github.com/anthropics/anthropic-sdk-go. It is the only package in the
// module allowed to hold an anthropic.* type; everything it produces for
// callers is translated into the generic events/provider shapes before it
// crosses the package boundary.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/telemetry"
	"github.com/laceai/lace/pkg/types"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

// messagesClient captures the subset of *anthropic.Client used here, so
// tests can substitute a fake without touching the network.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Config selects the model and its accounting limits. ContextWindow feeds
// directly into budget.Budget via Agent; MaxTokens (reported by MaxOutput)
// caps each response and is not used by the budget.
type Config struct {
	Model          string
	MaxTokens      int64
	ThinkingBudget int64
	ContextWindow  int
	RetryAttempts  int
}

// Adapter wraps an Anthropic Messages client as a provider.Adapter.
type Adapter struct {
	client messagesClient
	cfg    Config
}

// NewFromAPIKey builds an Adapter using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, cfg Config) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, cfg)
}

// New builds an Adapter around an already-constructed client, primarily
// for tests.
func New(client messagesClient, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

// SupportsStreaming always reports true; this adapter has no non-streaming-only mode.
func (a *Adapter) SupportsStreaming() bool { return true }

// ContextWindow reports the configured context window in tokens.
func (a *Adapter) ContextWindow() int { return a.cfg.ContextWindow }

// MaxOutput reports the configured max output tokens.
func (a *Adapter) MaxOutput() int { return int(a.cfg.MaxTokens) }

// CreateResponse issues a single non-streaming Messages.New call.
func (a *Adapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (provider.Response, error) {
	params, err := a.buildParams(systemPrompt, messages, tools)
	if err != nil {
		return provider.Response{}, errors.Wrap(err, "build anthropic request")
	}

	var resp provider.Response
	spanErr := telemetry.WithSpan(ctx, "provider.anthropic.create_response", func(spanCtx context.Context) error {
		msg, err := a.client.New(spanCtx, params, option.WithMaxRetries(a.cfg.RetryAttempts))
		if err != nil {
			return errors.Wrap(err, "anthropic messages.new")
		}
		resp, err = translateMessage(msg)
		return err
	})
	if spanErr != nil {
		return provider.Response{}, errors.Wrap(types.ErrProviderTransport, spanErr.Error())
	}
	return resp, nil
}

// CreateStreamingResponse issues Messages.NewStreaming and translates the
// SSE event sequence into normalized provider.Event values on a channel
// owned by the spawned goroutine, using a stream.Next()/message.Accumulate
// loop against the adapter contract instead of a hardcoded handler callback.
func (a *Adapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (<-chan provider.Event, error) {
	params, err := a.buildParams(systemPrompt, messages, tools)
	if err != nil {
		return nil, errors.Wrap(err, "build anthropic request")
	}

	log := logger.G(ctx).WithFields(logrus.Fields{
		"model":      a.cfg.Model,
		"max_tokens": a.cfg.MaxTokens,
	})

	out := make(chan provider.Event, 16)

	go func() {
		defer close(out)

		spanErr := telemetry.WithSpan(ctx, "provider.anthropic.stream_response", func(spanCtx context.Context) error {
			stream := a.client.NewStreaming(spanCtx, params, option.WithMaxRetries(a.cfg.RetryAttempts))
			defer stream.Close()

			if err := stream.Err(); err != nil {
				return errors.Wrap(err, "start anthropic stream")
			}

			proc := newStreamProcessor(out)
			message := sdk.Message{}
			for stream.Next() {
				event := stream.Current()
				if err := message.Accumulate(event); err != nil {
					// Best-effort handling: a malformed tool-call payload
					// confuses accumulation, the resulting empty input
					// surfaces as a BAD_INPUT tool result downstream, and the
					// turn proceeds rather than losing everything streamed
					// so far.
					log.WithError(err).Error("error accumulating anthropic message")
					continue
				}
				proc.handle(spanCtx, event)
			}
			if err := stream.Err(); err != nil {
				return errors.Wrap(err, "anthropic stream")
			}

			send(spanCtx, out, provider.Event{
				Kind:         provider.EventUsageUpdate,
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
			})
			send(spanCtx, out, provider.Event{
				Kind:       provider.EventFinished,
				StopReason: mapStopReason(message.StopReason),
			})
			return nil
		})

		if spanErr != nil && ctx.Err() == nil {
			send(ctx, out, provider.Event{Kind: provider.EventFinished, StopReason: provider.StopError, Err: spanErr})
		}
	}()

	return out, nil
}

func send(ctx context.Context, out chan<- provider.Event, ev provider.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (a *Adapter) buildParams(systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (sdk.MessageNewParams, error) {
	msgs, err := encodeMessages(messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if len(msgs) == 0 {
		return sdk.MessageNewParams{}, errors.New("at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		toolParams, err := encodeTools(tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}
	if a.cfg.ThinkingBudget > 0 && a.cfg.ThinkingBudget < a.cfg.MaxTokens {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(a.cfg.ThinkingBudget)
	}
	return params, nil
}

func encodeMessages(messages []events.GenericMessage) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks, err := encodeContent(m.Content)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case events.RoleUser, events.RoleToolResult:
			out = append(out, sdk.NewUserMessage(blocks...))
		case events.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic adapter: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func encodeContent(content []events.GenericContentBlock) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(content))
	for _, c := range content {
		switch c.Kind {
		case events.ContentText:
			if c.Text == "" {
				continue
			}
			blocks = append(blocks, sdk.NewTextBlock(c.Text))
		case events.ContentToolUse:
			var input any
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &input); err != nil {
					input = map[string]any{}
				}
			} else {
				input = map[string]any{}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(c.CallID, input, c.ToolName))
		case events.ContentToolResu:
			text := ""
			for _, rc := range c.ResultContent {
				text += rc.Text
			}
			blocks = append(blocks, sdk.NewToolResultBlock(c.CallID, text, c.ResultOutcome == events.OutcomeError))
		default:
			return nil, fmt.Errorf("anthropic adapter: unsupported content kind %q", c.Kind)
		}
	}
	return blocks, nil
}

func encodeTools(tools []provider.Tool) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schemaFields map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schemaFields); err != nil {
				return nil, errors.Wrapf(err, "tool %q schema", t.Name)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaFields}, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateMessage(msg *sdk.Message) (provider.Response, error) {
	message := events.GenericMessage{Role: events.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			message.Content = append(message.Content, events.GenericContentBlock{Kind: events.ContentText, Text: variant.Text})
		case sdk.ToolUseBlock:
			message.Content = append(message.Content, events.GenericContentBlock{
				Kind:     events.ContentToolUse,
				CallID:   variant.ID,
				ToolName: variant.Name,
				Input:    []byte(variant.JSON.Input.Raw()),
			})
		}
	}
	return provider.Response{
		Message: message,
		Usage: events.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		StopReason: mapStopReason(msg.StopReason),
	}, nil
}

func mapStopReason(sr sdk.StopReason) provider.StopReason {
	switch sr {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return provider.StopEnd
	case sdk.StopReasonToolUse:
		return provider.StopToolUse
	case sdk.StopReasonMaxTokens:
		return provider.StopLength
	default:
		return provider.StopEnd
	}
}
