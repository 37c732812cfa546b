// Package openai implements provider.Adapter on top of
// github.com/sashabaranov/go-openai. It is the only package in the module
// allowed to hold an openai.* type; everything it produces for callers is
// translated into the generic events/provider shapes before it crosses the
// package boundary, matching the rule the anthropic adapter follows.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	sdk "github.com/sashabaranov/go-openai"
	pkgerrors "github.com/pkg/errors"

	"github.com/laceai/lace/pkg/telemetry"
	"github.com/laceai/lace/pkg/types"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

// chatClient captures the subset of *openai.Client used here, so tests can
// substitute a fake without touching the network.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req sdk.ChatCompletionRequest) (chatStream, error)
}

// chatStream is the subset of *openai.ChatCompletionStream used here.
type chatStream interface {
	Recv() (sdk.ChatCompletionStreamResponse, error)
	Close() error
}

// clientAdapter wraps an *openai.Client to satisfy chatClient; the SDK's
// CreateChatCompletionStream returns a concrete *ChatCompletionStream which
// already implements chatStream.
type clientAdapter struct{ client *sdk.Client }

func (c clientAdapter) CreateChatCompletion(ctx context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error) {
	return c.client.CreateChatCompletion(ctx, req)
}

func (c clientAdapter) CreateChatCompletionStream(ctx context.Context, req sdk.ChatCompletionRequest) (chatStream, error) {
	return c.client.CreateChatCompletionStream(ctx, req)
}

// Config selects the model and its accounting limits. ContextWindow feeds
// directly into budget.Budget via Agent; MaxTokens (reported by MaxOutput)
// caps each response and is not used by the budget, same as the anthropic
// adapter's Config.
type Config struct {
	Model           string
	MaxTokens       int
	ReasoningEffort string // passed through for o1/o3-class models
	ContextWindow   int
}

// Adapter wraps an OpenAI chat-completions client as a provider.Adapter.
type Adapter struct {
	client chatClient
	cfg    Config
}

// NewFromAPIKey builds an Adapter using the default OpenAI HTTP client. An
// empty baseURL uses the public OpenAI API; set it to point at an
// OpenAI-compatible endpoint (Azure, a local proxy, GitHub Copilot's chat
// endpoint, etc.) instead.
func NewFromAPIKey(apiKey, baseURL string, cfg Config) (*Adapter, error) {
	if apiKey == "" {
		return nil, pkgerrors.New("openai api key is required")
	}
	clientCfg := sdk.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return New(clientAdapter{client: sdk.NewClientWithConfig(clientCfg)}, cfg)
}

// New builds an Adapter around an already-constructed client, primarily for
// tests.
func New(client chatClient, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New("openai chat client is required")
	}
	if cfg.Model == "" {
		return nil, pkgerrors.New("openai model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

// SupportsStreaming always reports true; this adapter has no non-streaming-only mode.
func (a *Adapter) SupportsStreaming() bool { return true }

// ContextWindow reports the configured context window in tokens.
func (a *Adapter) ContextWindow() int { return a.cfg.ContextWindow }

// MaxOutput reports the configured max output tokens.
func (a *Adapter) MaxOutput() int { return a.cfg.MaxTokens }

// CreateResponse issues a single non-streaming chat completion.
func (a *Adapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (provider.Response, error) {
	req, err := a.buildRequest(systemPrompt, messages, tools)
	if err != nil {
		return provider.Response{}, pkgerrors.Wrap(err, "build openai request")
	}

	var resp provider.Response
	spanErr := telemetry.WithSpan(ctx, "provider.openai.create_response", func(spanCtx context.Context) error {
		completion, err := a.client.CreateChatCompletion(spanCtx, req)
		if err != nil {
			return pkgerrors.Wrap(err, "openai chat.completions")
		}
		resp, err = translateCompletion(completion)
		return err
	})
	if spanErr != nil {
		return provider.Response{}, pkgerrors.Wrap(types.ErrProviderTransport, spanErr.Error())
	}
	return resp, nil
}

// CreateStreamingResponse issues a streaming chat completion and translates
// the per-choice deltas into normalized provider.Event values on a channel
// owned by the spawned goroutine, accumulating tool-call argument chunks
// by index and yielding events instead of calling a handler.
func (a *Adapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (<-chan provider.Event, error) {
	req, err := a.buildRequest(systemPrompt, messages, tools)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build openai request")
	}
	req.Stream = true
	req.StreamOptions = &sdk.StreamOptions{IncludeUsage: true}

	out := make(chan provider.Event, 16)

	go func() {
		defer close(out)

		spanErr := telemetry.WithSpan(ctx, "provider.openai.stream_response", func(spanCtx context.Context) error {
			stream, err := a.client.CreateChatCompletionStream(spanCtx, req)
			if err != nil {
				return pkgerrors.Wrap(err, "start openai stream")
			}
			defer stream.Close()

			proc := newStreamProcessor(out)
			for {
				chunk, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return pkgerrors.Wrap(err, "openai stream")
				}
				proc.handle(spanCtx, chunk)
			}

			send(spanCtx, out, provider.Event{
				Kind:         provider.EventUsageUpdate,
				InputTokens:  proc.usage.PromptTokens,
				OutputTokens: proc.usage.CompletionTokens,
			})
			send(spanCtx, out, provider.Event{
				Kind:       provider.EventFinished,
				StopReason: mapFinishReason(proc.finishReason),
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

func (a *Adapter) buildRequest(systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (sdk.ChatCompletionRequest, error) {
	msgs, err := encodeMessages(systemPrompt, messages)
	if err != nil {
		return sdk.ChatCompletionRequest{}, err
	}
	if len(msgs) == 0 {
		return sdk.ChatCompletionRequest{}, pkgerrors.New("at least one user/assistant message is required")
	}

	req := sdk.ChatCompletionRequest{
		Model:     a.cfg.Model,
		Messages:  msgs,
		MaxTokens: a.cfg.MaxTokens,
	}
	if a.cfg.ReasoningEffort != "" {
		req.ReasoningEffort = a.cfg.ReasoningEffort
		req.MaxTokens = 0
	}
	if len(tools) > 0 {
		encoded, err := encodeTools(tools)
		if err != nil {
			return sdk.ChatCompletionRequest{}, err
		}
		req.Tools = encoded
		req.ToolChoice = "auto"
	}
	return req, nil
}

func encodeMessages(systemPrompt string, messages []events.GenericMessage) ([]sdk.ChatCompletionMessage, error) {
	out := make([]sdk.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// encodeMessage may expand to more than one wire message: OpenAI represents
// each tool_result as its own message keyed by ToolCallID rather than as a
// content block, unlike the generic shape's tool_result blocks.
func encodeMessage(m events.GenericMessage) ([]sdk.ChatCompletionMessage, error) {
	switch m.Role {
	case events.RoleUser:
		text := concatText(m.Content)
		if text == "" {
			return nil, nil
		}
		return []sdk.ChatCompletionMessage{{Role: sdk.ChatMessageRoleUser, Content: text}}, nil
	case events.RoleAssistant:
		msg := sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant}
		for _, c := range m.Content {
			switch c.Kind {
			case events.ContentText:
				msg.Content += c.Text
			case events.ContentToolUse:
				args := "{}"
				if len(c.Input) > 0 {
					args = string(c.Input)
				}
				msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
					ID:   c.CallID,
					Type: sdk.ToolTypeFunction,
					Function: sdk.FunctionCall{
						Name:      c.ToolName,
						Arguments: args,
					},
				})
			}
		}
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			return nil, nil
		}
		return []sdk.ChatCompletionMessage{msg}, nil
	case events.RoleToolResult:
		var out []sdk.ChatCompletionMessage
		for _, c := range m.Content {
			if c.Kind != events.ContentToolResu {
				continue
			}
			text := ""
			for _, rc := range c.ResultContent {
				text += rc.Text
			}
			out = append(out, sdk.ChatCompletionMessage{
				Role:       sdk.ChatMessageRoleTool,
				Content:    text,
				ToolCallID: c.CallID,
			})
		}
		return out, nil
	default:
		return nil, pkgerrors.Errorf("openai adapter: unsupported role %q", m.Role)
	}
}

func concatText(content []events.GenericContentBlock) string {
	text := ""
	for _, c := range content {
		if c.Kind == events.ContentText {
			text += c.Text
		}
	}
	return text
}

func encodeTools(tools []provider.Tool) ([]sdk.Tool, error) {
	out := make([]sdk.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &params); err != nil {
				return nil, pkgerrors.Wrapf(err, "tool %q schema", t.Name)
			}
		}
		out = append(out, sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func translateCompletion(resp sdk.ChatCompletionResponse) (provider.Response, error) {
	if len(resp.Choices) == 0 {
		return provider.Response{}, pkgerrors.New("openai response had no choices")
	}
	choice := resp.Choices[0]
	message := events.GenericMessage{Role: events.RoleAssistant}
	if choice.Message.Content != "" {
		message.Content = append(message.Content, events.GenericContentBlock{Kind: events.ContentText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		message.Content = append(message.Content, events.GenericContentBlock{
			Kind:     events.ContentToolUse,
			CallID:   tc.ID,
			ToolName: tc.Function.Name,
			Input:    []byte(tc.Function.Arguments),
		})
	}
	return provider.Response{
		Message: message,
		Usage: events.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		StopReason: mapFinishReason(choice.FinishReason),
	}, nil
}

func mapFinishReason(fr sdk.FinishReason) provider.StopReason {
	switch fr {
	case sdk.FinishReasonStop:
		return provider.StopEnd
	case sdk.FinishReasonToolCalls, sdk.FinishReasonFunctionCall:
		return provider.StopToolUse
	case sdk.FinishReasonLength:
		return provider.StopLength
	default:
		return provider.StopEnd
	}
}
