package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/learnloop/converse/messages"
	"github.com/learnloop/converse/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	defaultHTTPTimeout = 90 * time.Second
	probeTimeout       = 5 * time.Second
)

// Flavor names the calling convention a deployment supports.
const (
	FlavorAuto   = "auto"
	FlavorChat   = "chat"
	FlavorLegacy = "legacy"
)

// Config configures the remote provider. Zero values fall back to the
// OPENAI_* environment, the public endpoint, and automatic capability
// detection.
type Config struct {
	// APIKey is the service credential. Empty falls back to
	// OPENAI_API_KEY; absence makes construction fail with
	// provider.ErrUnavailable.
	APIKey string

	// BaseURL overrides the service endpoint, e.g. for a compatible
	// self-hosted deployment.
	BaseURL string

	// Model is the default model name sent when a request carries none.
	Model string

	// Flavor pins the calling convention ("chat" or "legacy"). Empty or
	// "auto" probes the endpoint once at construction.
	Flavor string

	// ProxyURL routes requests through a proxy. A scheme the default
	// transport cannot dial triggers one construction retry without it.
	ProxyURL string

	// HTTPClient overrides the transport entirely. Mostly a test seam;
	// when set, ProxyURL is ignored.
	HTTPClient *http.Client
}

// Provider calls the external completion service. The calling convention
// is resolved once in New and captured in the transport; Generate and
// StreamGenerate never branch on it again.
type Provider struct {
	transport transport
	model     string
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Streamer = (*Provider)(nil)
)

// New constructs the remote provider. It fails with
// provider.ErrUnavailable when no credential is configured or when the
// endpoint's calling convention cannot be determined.
func New(cfg Config) (*Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not configured", provider.ErrUnavailable)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	httpClient, proxied := clientFor(cfg)

	flavor := strings.ToLower(strings.TrimSpace(cfg.Flavor))
	if flavor == "" || flavor == FlavorAuto {
		detected, err := detectFlavor(httpClient, baseURL, apiKey)
		if err != nil && proxied && isProxyRejection(err) {
			// The configured proxy scheme is not dialable by the default
			// transport. Retry once with an explicitly built client that
			// drops the proxy setting.
			httpClient = plainClient()
			detected, err = detectFlavor(httpClient, baseURL, apiKey)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: capability probe failed: %v", provider.ErrUnavailable, err)
		}
		flavor = detected
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL+"/"),
		option.WithHTTPClient(httpClient),
	)

	switch flavor {
	case FlavorChat:
		return &Provider{transport: chatTransport{client: client}, model: model}, nil
	case FlavorLegacy:
		return &Provider{transport: legacyTransport{client: client}, model: model}, nil
	default:
		return nil, fmt.Errorf("%w: unknown flavor %q", provider.ErrUnavailable, flavor)
	}
}

func (p *Provider) Name() string { return provider.NameRemote }

// Generate sends the full history in order and returns the first
// completion's text trimmed of surrounding whitespace. An empty reply is
// valid; transport and API failures surface as *provider.Error.
func (p *Provider) Generate(ctx context.Context, history []messages.ChatMessage, params provider.GenerationParams) (messages.ChatMessage, error) {
	content, err := p.transport.complete(ctx, p.resolveModel(params), history, params)
	if err != nil {
		return messages.ChatMessage{}, &provider.Error{Provider: provider.NameRemote, Err: err}
	}
	return messages.Assistant(strings.TrimSpace(content)), nil
}

// StreamGenerate streams the reply incrementally. The delta sequence
// concatenates to exactly what Generate returns for the same input.
func (p *Provider) StreamGenerate(ctx context.Context, history []messages.ChatMessage, params provider.GenerationParams) (<-chan provider.StreamEvent, error) {
	return p.transport.stream(ctx, p.resolveModel(params), history, params)
}

func (p *Provider) resolveModel(params provider.GenerationParams) string {
	if params.Model != "" {
		return params.Model
	}
	return p.model
}

// clientFor builds the HTTP client for the adapter, reporting whether it
// forwards a configured proxy.
func clientFor(cfg Config) (*http.Client, bool) {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient, false
	}
	if cfg.ProxyURL == "" {
		return plainClient(), false
	}
	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return plainClient(), false
	}
	return &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}, true
}

func plainClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// detectFlavor probes the endpoint once. Deployments that route the
// chat-completions path answer anything but 404/501 (commonly 405 for a
// bare GET); legacy-only deployments 404 it.
func detectFlavor(hc *http.Client, baseURL, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/chat/completions", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusNotImplemented:
		return FlavorLegacy, nil
	default:
		return FlavorChat, nil
	}
}

// isProxyRejection matches the transport error raised when the proxy URL
// carries a scheme net/http cannot dial.
func isProxyRejection(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "unsupported protocol scheme") ||
		strings.Contains(err.Error(), "proxyconnect"))
}

// transport is the calling convention selected at construction.
type transport interface {
	complete(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (string, error)
	stream(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (<-chan provider.StreamEvent, error)
}

// chatTransport speaks the modern chat-completions convention.
type chatTransport struct {
	client *openai.Client
}

func (t chatTransport) complete(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (string, error) {
	chat, err := t.client.Chat.Completions.New(ctx, t.request(model, history, params))
	if err != nil {
		return "", err
	}
	if len(chat.Choices) == 0 {
		return "", nil
	}
	return chat.Choices[0].Message.Content, nil
}

func (t chatTransport) stream(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (<-chan provider.StreamEvent, error) {
	events := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(events)

		strm := t.client.Chat.Completions.NewStreaming(ctx, t.request(model, history, params))
		defer strm.Close()

		events <- provider.Start{Role: messages.RoleAssistant, Timestamp: strfmt.DateTime(time.Now())}

		trim := newTrimWriter(func(fragment string) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- provider.Delta{Content: fragment}:
				return true
			}
		})

		for strm.Next() {
			chunk := strm.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if !trim.Write(chunk.Choices[0].Delta.Content) {
				return
			}
		}
		if err := strm.Err(); err != nil {
			events <- provider.Failure{Detail: err.Error()}
			return
		}
		select {
		case <-ctx.Done():
		case events <- provider.End{Timestamp: strfmt.DateTime(time.Now())}:
		}
	}()
	return events, nil
}

func (t chatTransport) request(model string, history []messages.ChatMessage, params provider.GenerationParams) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case messages.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case messages.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages:    openai.F(msgs),
		Model:       openai.F(model),
		Temperature: openai.Float(params.Temperature),
		TopP:        openai.Float(params.TopP),
		MaxTokens:   openai.Int(int64(params.MaxTokens)),
		N:           openai.Int(1),
	}
}

// legacyTransport speaks the flat prompt-completions convention of older
// deployments. History is rendered into a single transcript prompt; the
// payload order is preserved.
type legacyTransport struct {
	client *openai.Client
}

func (t legacyTransport) complete(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (string, error) {
	compl, err := t.client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.F(openai.CompletionNewParamsModel(model)),
		Prompt:      openai.F[openai.CompletionNewParamsPromptUnion](shared.UnionString(renderPrompt(history))),
		Temperature: openai.Float(params.Temperature),
		TopP:        openai.Float(params.TopP),
		MaxTokens:   openai.Int(int64(params.MaxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(compl.Choices) == 0 {
		return "", nil
	}
	return compl.Choices[0].Text, nil
}

// stream on the legacy convention chunks the complete reply; older
// deployments predate server-side streaming.
func (t legacyTransport) stream(ctx context.Context, model string, history []messages.ChatMessage, params provider.GenerationParams) (<-chan provider.StreamEvent, error) {
	events := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(events)
		events <- provider.Start{Role: messages.RoleAssistant, Timestamp: strfmt.DateTime(time.Now())}

		content, err := t.complete(ctx, model, history, params)
		if err != nil {
			events <- provider.Failure{Detail: err.Error()}
			return
		}
		for _, chunk := range provider.Chunks(strings.TrimSpace(content), 24) {
			select {
			case <-ctx.Done():
				return
			case events <- provider.Delta{Content: chunk}:
			}
		}
		select {
		case <-ctx.Done():
		case events <- provider.End{Timestamp: strfmt.DateTime(time.Now())}:
		}
	}()
	return events, nil
}

func renderPrompt(history []messages.ChatMessage) string {
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant:")
	return sb.String()
}
