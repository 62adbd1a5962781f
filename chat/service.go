package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/learnloop/converse/messages"
	"github.com/learnloop/converse/provider"
	"github.com/learnloop/converse/store"
)

// Persistence is the store surface the service needs.
type Persistence interface {
	OwnershipChecker
	Messages(ctx context.Context, conversationID string) ([]store.Message, error)
	AppendMessage(ctx context.Context, conversationID string, p store.AppendParams) (store.Message, error)
}

// GenerateRequest carries raw caller input for one generation.
type GenerateRequest struct {
	// Content is the user's prompt. Empty or whitespace-only is a
	// ValidationError.
	Content string

	// RawParams is the loosely-typed JSON object holding sampling
	// parameters. Malformed fields fall back to the injected defaults.
	RawParams []byte

	// ProviderHint overrides the default provider for this request.
	ProviderHint string
}

// GenerateResult is a completed exchange: the two persisted records and
// which provider variant produced the reply.
type GenerateResult struct {
	User         store.Message `json:"user"`
	Assistant    store.Message `json:"assistant"`
	ProviderUsed string        `json:"provider_used"`
}

// Service orchestrates generation over the persistence collaborator and
// the provider selection policy.
type Service struct {
	store    Persistence
	selector provider.Selector
	defaults provider.GenerationParams

	locks *haxmap.Map[string, *sync.Mutex]
}

// Options for New.
var (
	WithStore    = opts.ForName[Service, Persistence]("store")
	WithSelector = opts.ForName[Service, provider.Selector]("selector")
	WithDefaults = opts.ForName[Service, provider.GenerationParams]("defaults")
)

// New builds a Service. A store is required; defaults fall back to the
// documented sampling defaults and an echo-only selector.
func New(options ...opts.Option[Service]) (*Service, error) {
	svc := Service{
		defaults: provider.DefaultParams(),
		selector: provider.Selector{Default: provider.NameEcho, Echo: provider.Echo{}},
		locks:    haxmap.New[string, *sync.Mutex](),
	}
	if err := opts.Apply(&svc, options); err != nil {
		return nil, err
	}
	if svc.store == nil {
		return nil, fmt.Errorf("chat service requires a store")
	}
	return &svc, nil
}

// Guard returns the ownership guard over the service's store.
func (s *Service) Guard() Guard { return Guard{Store: s.store} }

// Generate runs the synchronous request/reply path:
//
//  1. reject empty prompts,
//  2. persist the user message immediately (it survives any later
//     provider failure),
//  3. load the full history,
//  4. resolve parameters and provider,
//  5. invoke the provider,
//  6. persist and return the assistant reply.
//
// Provider failures surface as provider.ErrUnavailable or
// *provider.Error with no assistant message appended.
func (s *Service) Generate(ctx context.Context, userID, conversationID string, req GenerateRequest) (GenerateResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return GenerateResult{}, &ValidationError{Detail: "content is required"}
	}
	if !s.Guard().Owns(ctx, userID, conversationID) {
		return GenerateResult{}, ErrUnauthorized
	}

	unlock := s.lockConversation(conversationID)
	defer unlock()

	userMsg, history, params, prov, err := s.prepare(ctx, conversationID, req)
	if err != nil {
		return GenerateResult{}, err
	}

	reply, err := prov.Generate(ctx, history, params)
	if err != nil {
		return GenerateResult{}, err
	}

	asstMsg, err := s.store.AppendMessage(ctx, conversationID, store.AppendParams{
		Role:    messages.RoleAssistant,
		Content: reply.Content,
		Model:   params.Model,
	})
	if err != nil {
		return GenerateResult{}, &PersistenceError{Op: "append assistant message", Err: err}
	}

	return GenerateResult{User: userMsg, Assistant: asstMsg, ProviderUsed: prov.Name()}, nil
}

// prepare persists the user message, loads history, and resolves
// parameters and provider. Shared by the synchronous and streaming
// paths; the caller holds the conversation lock.
func (s *Service) prepare(ctx context.Context, conversationID string, req GenerateRequest) (store.Message, []messages.ChatMessage, provider.GenerationParams, provider.Provider, error) {
	userMsg, err := s.store.AppendMessage(ctx, conversationID, store.AppendParams{
		Role:    messages.RoleUser,
		Content: req.Content,
	})
	if err != nil {
		return store.Message{}, nil, provider.GenerationParams{}, nil, &PersistenceError{Op: "append user message", Err: err}
	}

	records, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return store.Message{}, nil, provider.GenerationParams{}, nil, &PersistenceError{Op: "load history", Err: err}
	}
	history := make([]messages.ChatMessage, 0, len(records))
	for _, r := range records {
		history = append(history, messages.ChatMessage{Role: r.Role, Content: r.Content})
	}

	params := provider.ParseParams(req.RawParams, s.defaults)

	prov, err := s.selector.Select(req.ProviderHint)
	if err != nil {
		return store.Message{}, nil, provider.GenerationParams{}, nil, err
	}

	return userMsg, history, params, prov, nil
}

// lockConversation serializes generations per conversation id.
func (s *Service) lockConversation(conversationID string) func() {
	mu, _ := s.locks.GetOrCompute(conversationID, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}
