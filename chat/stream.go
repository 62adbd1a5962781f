package chat

import (
	"context"
	"strings"

	"github.com/learnloop/converse/messages"
	"github.com/learnloop/converse/provider"
	"github.com/learnloop/converse/store"
)

// fallbackChunkSize is the delta granularity used when a provider can
// only return a whole reply. Presentation only; clients must not rely on
// it.
const fallbackChunkSize = 24

// StreamGenerate runs one generation incrementally. The returned channel
// carries exactly one Start, the deltas in order, and one terminal event,
// then closes. The user message is persisted before this returns; the
// assistant reply is persisted only when the stream completes, so an
// abandoned connection never records a partial reply. Pre-stream
// failures (validation, authorization, provider selection) are returned
// as errors instead of events.
func (s *Service) StreamGenerate(ctx context.Context, userID, conversationID string, req GenerateRequest) (<-chan provider.StreamEvent, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Detail: "content is required"}
	}
	if !s.Guard().Owns(ctx, userID, conversationID) {
		return nil, ErrUnauthorized
	}

	unlock := s.lockConversation(conversationID)

	_, history, params, prov, err := s.prepare(ctx, conversationID, req)
	if err != nil {
		unlock()
		return nil, err
	}

	out := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(out)
		defer unlock()

		forward := func(ev provider.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		if streamer, ok := prov.(provider.Streamer); ok {
			s.relayStream(ctx, streamer, conversationID, history, params, forward)
			return
		}
		s.chunkReply(ctx, prov, conversationID, history, params, forward)
	}()
	return out, nil
}

// relayStream forwards a natively streaming provider, accumulating the
// deltas so the assistant reply can be persisted when the stream ends.
func (s *Service) relayStream(ctx context.Context, streamer provider.Streamer, conversationID string, history []messages.ChatMessage, params provider.GenerationParams, forward func(provider.StreamEvent) bool) {
	events, err := streamer.StreamGenerate(ctx, history, params)
	if err != nil {
		forward(provider.Failure{Detail: err.Error()})
		return
	}

	var full strings.Builder
	for ev := range events {
		switch e := ev.(type) {
		case provider.Delta:
			full.WriteString(e.Content)
			if !forward(ev) {
				return
			}
		case provider.End:
			if err := s.persistReply(ctx, conversationID, full.String(), params.Model); err != nil {
				forward(provider.Failure{Detail: "failed to record reply"})
				return
			}
			if !forward(ev) {
				return
			}
		default:
			if !forward(ev) {
				return
			}
		}
	}
}

// chunkReply presents a whole-reply provider incrementally by slicing
// its complete answer into fixed-size deltas.
func (s *Service) chunkReply(ctx context.Context, prov provider.Provider, conversationID string, history []messages.ChatMessage, params provider.GenerationParams, forward func(provider.StreamEvent) bool) {
	reply, err := prov.Generate(ctx, history, params)
	if err != nil {
		forward(provider.Failure{Detail: err.Error()})
		return
	}

	if !forward(provider.Start{Role: messages.RoleAssistant}) {
		return
	}
	for _, chunk := range provider.Chunks(reply.Content, fallbackChunkSize) {
		if !forward(provider.Delta{Content: chunk}) {
			return
		}
	}
	if err := s.persistReply(ctx, conversationID, reply.Content, params.Model); err != nil {
		forward(provider.Failure{Detail: "failed to record reply"})
		return
	}
	forward(provider.End{})
}

func (s *Service) persistReply(ctx context.Context, conversationID, content, model string) error {
	_, err := s.store.AppendMessage(ctx, conversationID, store.AppendParams{
		Role:    messages.RoleAssistant,
		Content: content,
		Model:   model,
	})
	return err
}
