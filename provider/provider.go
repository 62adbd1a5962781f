package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/learnloop/converse/messages"
)

// Well-known provider names, used in selection hints and API responses.
const (
	NameEcho   = "echo"
	NameRemote = "remote"
)

// ErrUnavailable indicates the requested provider cannot be constructed,
// typically because no credential is configured. It is a configuration
// problem, not a transport failure.
var ErrUnavailable = errors.New("provider unavailable")

// Error wraps a transport or API failure raised while calling a provider.
// The underlying cause is preserved; it is never converted into an empty
// reply.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provider produces one assistant reply from conversation history and
// sampling parameters.
type Provider interface {
	// Name identifies the variant ("echo" or "remote").
	Name() string

	// Generate returns an assistant-role message, or fails with
	// ErrUnavailable / *Error.
	Generate(ctx context.Context, history []messages.ChatMessage, params GenerationParams) (messages.ChatMessage, error)
}

// Streamer is implemented by providers capable of incremental output.
// The returned channel carries exactly one Start, the deltas in emission
// order, and one terminal event (End or Failure), then closes. The
// concatenation of all delta contents equals the reply Generate would
// have produced for the same input.
type Streamer interface {
	StreamGenerate(ctx context.Context, history []messages.ChatMessage, params GenerationParams) (<-chan StreamEvent, error)
}

// Selector resolves which provider serves a request. An explicit hint
// takes precedence over the injected default. The remote constructor is
// invoked at most the first time remote is selected; its result is
// memoized by the caller wiring (see cmd/conversed).
type Selector struct {
	// Default names the provider used when no hint is given.
	Default string

	// Echo is the always-available offline provider.
	Echo Provider

	// Remote constructs (or returns the memoized) remote provider. A
	// construction failure is surfaced to the caller, never swallowed.
	Remote func() (Provider, error)
}

// Select resolves hint against the default policy. A hint overrides the
// default only when it names a known provider; empty and unrecognized
// hints alike defer to the default. A remote construction failure is
// returned as-is so callers can distinguish misconfiguration from
// runtime failure.
func (s Selector) Select(hint string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case NameEcho:
		return s.Echo, nil
	case NameRemote:
		return s.remote()
	}
	if strings.ToLower(strings.TrimSpace(s.Default)) == NameRemote {
		return s.remote()
	}
	return s.Echo, nil
}

func (s Selector) remote() (Provider, error) {
	if s.Remote == nil {
		return nil, fmt.Errorf("%w: no remote provider configured", ErrUnavailable)
	}
	return s.Remote()
}
