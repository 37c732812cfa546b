package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

type stubClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
	}
	return s.stream
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestCreateResponse_TextOnly(t *testing.T) {
	stub := &stubClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 4},
		},
	}
	a, err := New(stub, Config{Model: "claude-sonnet-4", ContextWindow: 200000})
	require.NoError(t, err)

	resp, err := a.CreateResponse(context.Background(), "be terse", []events.GenericMessage{
		{Role: events.RoleUser, Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: "hi"}}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, provider.StopEnd, resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	require.Len(t, resp.Message.Content, 1)
	assert.Equal(t, "hello there", resp.Message.Content[0].Text)

	require.Len(t, stub.lastParams.Messages, 1)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be terse", stub.lastParams.System[0].Text)
}

func TestCreateResponse_ToolUse(t *testing.T) {
	stub := &stubClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{
					Type:  "tool_use",
					ID:    "call_1",
					Name:  "bash",
					Input: []byte(`{"cmd":"ls"}`),
				},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	a, err := New(stub, Config{Model: "claude-sonnet-4"})
	require.NoError(t, err)

	resp, err := a.CreateResponse(context.Background(), "", []events.GenericMessage{
		{Role: events.RoleUser, Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: "run ls"}}},
	}, []provider.Tool{{Name: "bash", Description: "run a shell command", InputSchema: []byte(`{"type":"object"}`)}})
	require.NoError(t, err)

	assert.Equal(t, provider.StopToolUse, resp.StopReason)
	require.Len(t, resp.Message.Content, 1)
	assert.Equal(t, events.ContentToolUse, resp.Message.Content[0].Kind)
	assert.Equal(t, "call_1", resp.Message.Content[0].CallID)
	assert.Equal(t, "bash", resp.Message.Content[0].ToolName)

	require.Len(t, stub.lastParams.Tools, 1)
}

func TestCreateStreamingResponse_EmitsUsageAndFinish(t *testing.T) {
	stub := &stubClient{}
	a, err := New(stub, Config{Model: "claude-sonnet-4"})
	require.NoError(t, err)

	ch, err := a.CreateStreamingResponse(context.Background(), "", []events.GenericMessage{
		{Role: events.RoleUser, Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: "hi"}}},
	}, nil)
	require.NoError(t, err)

	var got []provider.Event
	for ev := range ch {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, provider.EventUsageUpdate, got[0].Kind)
	assert.Equal(t, provider.EventFinished, got[1].Kind)
	assert.Equal(t, provider.StopEnd, got[1].StopReason)
}

func TestCreateResponse_RejectsEmptyConversation(t *testing.T) {
	stub := &stubClient{}
	a, err := New(stub, Config{Model: "claude-sonnet-4"})
	require.NoError(t, err)

	_, err = a.CreateResponse(context.Background(), "", nil, nil)
	assert.Error(t, err)
}
