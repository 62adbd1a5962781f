package provider

import (
	"context"

	"github.com/learnloop/converse/messages"
)

// PlaceholderReply is returned by the echo provider when the history
// contains no user message.
const PlaceholderReply = "(no input)"

// echoChunkSize is the delta granularity used when streaming an echo
// reply. The size is presentation-only; consumers must not rely on it.
const echoChunkSize = 24

// Echo is a deterministic offline provider. It replies with the content
// of the most recent user message, scanned from the end of history, and
// never fails. It backs development setups and every deployment without
// a remote credential.
type Echo struct{}

var (
	_ Provider = Echo{}
	_ Streamer = Echo{}
)

func (Echo) Name() string { return NameEcho }

func (Echo) Generate(_ context.Context, history []messages.ChatMessage, _ GenerationParams) (messages.ChatMessage, error) {
	if last, ok := messages.LastUser(history); ok {
		return messages.Assistant(last.Content), nil
	}
	return messages.Assistant(PlaceholderReply), nil
}

// StreamGenerate chunks the echo reply into fixed-size delta events. The
// concatenated deltas always equal the Generate reply for the same
// history.
func (e Echo) StreamGenerate(ctx context.Context, history []messages.ChatMessage, params GenerationParams) (<-chan StreamEvent, error) {
	reply, _ := e.Generate(ctx, history, params)

	events := make(chan StreamEvent, 10)
	go func() {
		defer close(events)
		events <- Start{Role: messages.RoleAssistant}
		for _, chunk := range Chunks(reply.Content, echoChunkSize) {
			select {
			case <-ctx.Done():
				return
			case events <- Delta{Content: chunk}:
			}
		}
		select {
		case <-ctx.Done():
		case events <- End{}:
		}
	}()
	return events, nil
}

// Chunks splits s into rune-safe slices of at most size runes. It is the
// shared fallback for presenting a complete reply incrementally when a
// provider has no native streaming support.
func Chunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
