// Package openai adapts the external completion service behind the
// provider.Provider contract.
//
// The service's client surface has drifted across deployments: newer ones
// speak the chat-completions convention, older ones only the flat
// prompt-completions convention. Which convention is available is detected
// once, at construction time, by a single probe request; the result picks
// one of two internal transports and every subsequent call routes through
// the selected transport without re-probing.
//
// A second compatibility hazard is handled at construction as well: a
// configured proxy URL may use a scheme the default transport refuses to
// dial. That specific failure is caught and construction is retried once
// with an explicitly built HTTP client that does not forward the proxy
// setting.
package openai
