package provider

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Bounds and defaults for sampling parameters. Values outside the bounds
// are clamped, not rejected; unparsable inputs fall back to the defaults.
const (
	MinTemperature = 0.0
	MaxTemperature = 1.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 2048

	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
	DefaultMaxTokens   = 512
)

// GenerationParams carries the sampling parameters forwarded to a provider.
type GenerationParams struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultParams returns the documented per-process defaults.
func DefaultParams() GenerationParams {
	return GenerationParams{
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Clamp bounds every numeric field into its valid range and returns the
// result. Clamp is idempotent: clamping already-valid parameters is a
// no-op.
func (p GenerationParams) Clamp() GenerationParams {
	p.Temperature = clampFloat(p.Temperature, MinTemperature, MaxTemperature)
	p.TopP = clampFloat(p.TopP, MinTopP, MaxTopP)
	p.MaxTokens = clampInt(p.MaxTokens, MinMaxTokens, MaxMaxTokens)
	return p
}

// ParseParams builds GenerationParams from a raw, loosely-typed JSON
// object. Each field is parsed independently: a missing or malformed
// field takes its value from defaults, never an error. The result is
// clamped before it is returned. Pure function, no side effects.
func ParseParams(raw []byte, defaults GenerationParams) GenerationParams {
	out := defaults

	if len(raw) > 0 && gjson.ValidBytes(raw) {
		if model := gjson.GetBytes(raw, "model"); model.Type == gjson.String {
			out.Model = strings.TrimSpace(model.String())
		}
		out.Temperature = floatField(gjson.GetBytes(raw, "temperature"), defaults.Temperature)
		out.TopP = floatField(gjson.GetBytes(raw, "top_p"), defaults.TopP)
		out.MaxTokens = intField(gjson.GetBytes(raw, "max_tokens"), defaults.MaxTokens)
	}

	return out.Clamp()
}

// floatField accepts JSON numbers and numeric strings, anything else
// falls back to def.
func floatField(res gjson.Result, def float64) float64 {
	switch res.Type {
	case gjson.Number:
		return res.Float()
	case gjson.String:
		if v, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64); err == nil {
			return v
		}
	}
	return def
}

func intField(res gjson.Result, def int) int {
	switch res.Type {
	case gjson.Number:
		return int(res.Int())
	case gjson.String:
		if v, err := strconv.Atoi(strings.TrimSpace(res.Str)); err == nil {
			return v
		}
	}
	return def
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
