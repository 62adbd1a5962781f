package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/learnloop/converse/messages"
	"github.com/learnloop/converse/provider"
	"github.com/learnloop/converse/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStreamer replays a fixed event sequence, or fails to open the
// stream at all.
type scriptedStreamer struct {
	events []provider.StreamEvent
	err    error
}

func (scriptedStreamer) Name() string { return provider.NameRemote }

func (s scriptedStreamer) Generate(context.Context, []messages.ChatMessage, provider.GenerationParams) (messages.ChatMessage, error) {
	var full strings.Builder
	for _, ev := range s.events {
		if d, ok := ev.(provider.Delta); ok {
			full.WriteString(d.Content)
		}
	}
	return messages.Assistant(full.String()), nil
}

func (s scriptedStreamer) StreamGenerate(context.Context, []messages.ChatMessage, provider.GenerationParams) (<-chan provider.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan provider.StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// assistantFailStore rejects assistant appends only, so the user message
// lands but the reply cannot be recorded.
type assistantFailStore struct {
	*memStore
}

func (a assistantFailStore) AppendMessage(ctx context.Context, conversationID string, p store.AppendParams) (store.Message, error) {
	if p.Role == messages.RoleAssistant {
		return store.Message{}, errors.New("disk full")
	}
	return a.memStore.AppendMessage(ctx, conversationID, p)
}

func collect(t *testing.T, events <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var out []provider.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func deltaConcat(events []provider.StreamEvent) string {
	var full strings.Builder
	for _, ev := range events {
		if d, ok := ev.(provider.Delta); ok {
			full.WriteString(d.Content)
		}
	}
	return full.String()
}

func TestStreamGenerate(t *testing.T) {
	ctx := context.Background()
	const prompt = "Explain photosynthesis in terms a ten year old would follow."

	t.Run("echo stream emits start deltas end and persists the reply", func(t *testing.T) {
		st := newMemStore()
		svc := newService(t, st, echoSelector())

		events, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt})
		require.NoError(t, err)
		got := collect(t, events)

		require.GreaterOrEqual(t, len(got), 3)
		assert.Equal(t, provider.Start{Role: messages.RoleAssistant}, got[0])
		assert.Equal(t, provider.End{}, got[len(got)-1])
		for _, ev := range got[1 : len(got)-1] {
			assert.IsType(t, provider.Delta{}, ev)
		}
		assert.Equal(t, prompt, deltaConcat(got))

		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 2)
		assert.Equal(t, messages.RoleAssistant, recorded[1].Role)
		assert.Equal(t, prompt, recorded[1].Content)
	})

	t.Run("concatenated deltas equal the synchronous reply", func(t *testing.T) {
		syncSvc := newService(t, newMemStore(), echoSelector())
		res, err := syncSvc.Generate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt})
		require.NoError(t, err)

		streamSvc := newService(t, newMemStore(), echoSelector())
		events, err := streamSvc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt})
		require.NoError(t, err)

		assert.Equal(t, res.Assistant.Content, deltaConcat(collect(t, events)))
	})

	t.Run("native streamer is relayed and its reply persisted", func(t *testing.T) {
		st := newMemStore()
		sel := echoSelector()
		sel.Remote = func() (provider.Provider, error) {
			return scriptedStreamer{events: []provider.StreamEvent{
				provider.Start{Role: messages.RoleAssistant},
				provider.Delta{Content: "Hel"},
				provider.Delta{Content: "lo"},
				provider.End{},
			}}, nil
		}
		svc := newService(t, st, sel)

		events, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt, ProviderHint: "remote"})
		require.NoError(t, err)
		got := collect(t, events)

		assert.Equal(t, provider.End{}, got[len(got)-1])
		assert.Equal(t, "Hello", deltaConcat(got))

		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 2)
		assert.Equal(t, "Hello", recorded[1].Content)
	})

	t.Run("empty prompt fails before the stream opens", func(t *testing.T) {
		st := newMemStore()
		svc := newService(t, st, echoSelector())

		_, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: " "})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Empty(t, st.msgs["conv-1"])
	})

	t.Run("non-owner fails before the stream opens", func(t *testing.T) {
		st := newMemStore()
		svc := newService(t, st, echoSelector())

		_, err := svc.StreamGenerate(ctx, "bob", "conv-1", GenerateRequest{Content: prompt})
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, st.msgs["conv-1"])
	})

	t.Run("unavailable provider fails after the user message lands", func(t *testing.T) {
		st := newMemStore()
		svc := newService(t, st, echoSelector())

		_, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt, ProviderHint: "remote"})
		assert.ErrorIs(t, err, provider.ErrUnavailable)

		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 1)
		assert.Equal(t, messages.RoleUser, recorded[0].Role)
	})

	t.Run("stream open failure becomes a failure event", func(t *testing.T) {
		st := newMemStore()
		sel := echoSelector()
		sel.Remote = func() (provider.Provider, error) {
			return scriptedStreamer{err: errors.New("connection reset")}, nil
		}
		svc := newService(t, st, sel)

		events, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt, ProviderHint: "remote"})
		require.NoError(t, err)
		got := collect(t, events)

		require.Len(t, got, 1)
		assert.IsType(t, provider.Failure{}, got[0])

		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 1)
		assert.Equal(t, messages.RoleUser, recorded[0].Role)
	})

	t.Run("reply persist failure ends the stream with a failure event", func(t *testing.T) {
		st := newMemStore()
		svc := newService(t, assistantFailStore{st}, echoSelector())

		events, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt})
		require.NoError(t, err)
		got := collect(t, events)

		require.NotEmpty(t, got)
		assert.IsType(t, provider.Failure{}, got[len(got)-1])
		for _, ev := range got {
			assert.NotEqual(t, provider.End{}, ev)
		}

		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 1)
		assert.Equal(t, messages.RoleUser, recorded[0].Role)
	})

	t.Run("upstream abort records no partial reply", func(t *testing.T) {
		st := newMemStore()
		sel := echoSelector()
		sel.Remote = func() (provider.Provider, error) {
			// Channel closes mid-reply without a terminal event.
			return scriptedStreamer{events: []provider.StreamEvent{
				provider.Start{Role: messages.RoleAssistant},
				provider.Delta{Content: "half a rep"},
			}}, nil
		}
		svc := newService(t, st, sel)

		events, err := svc.StreamGenerate(ctx, "alice", "conv-1", GenerateRequest{Content: prompt, ProviderHint: "remote"})
		require.NoError(t, err)
		got := collect(t, events)

		for _, ev := range got {
			assert.NotEqual(t, provider.End{}, ev)
		}
		recorded := st.msgs["conv-1"]
		require.Len(t, recorded, 1)
		assert.Equal(t, messages.RoleUser, recorded[0].Role)
	})
}
