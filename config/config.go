// Package config loads conversed settings from an optional TOML file
// with environment variable overrides. Environment always wins, so a
// deployment can ship one config file and vary credentials per host.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/learnloop/converse/provider"
)

// Config is the full conversed configuration.
type Config struct {
	// Listen is the host:port the HTTP server binds.
	Listen string `toml:"listen"`

	// Database is the sqlite file path.
	Database string `toml:"database"`

	// DefaultProvider is used when a request carries no provider hint.
	DefaultProvider string `toml:"default_provider"`

	OpenAI   OpenAI   `toml:"openai"`
	NATS     NATS     `toml:"nats"`
	Defaults Defaults `toml:"defaults"`
}

// OpenAI configures the remote provider.
type OpenAI struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	Flavor   string `toml:"flavor"`
	ProxyURL string `toml:"proxy_url"`
}

// NATS configures the optional external broker. Empty URL means the
// in-process broker.
type NATS struct {
	URL string `toml:"url"`
}

// Defaults are the sampling parameters applied when a request omits
// them.
type Defaults struct {
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	MaxTokens   int     `toml:"max_tokens"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	p := provider.DefaultParams()
	return Config{
		Listen:          "localhost:8484",
		Database:        "converse.db",
		DefaultProvider: provider.NameEcho,
		Defaults: Defaults{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			MaxTokens:   p.MaxTokens,
		},
	}
}

// Load reads the TOML file at path, if any, then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Listen, "CONVERSE_LISTEN")
	setString(&c.Database, "CONVERSE_DB")
	setString(&c.DefaultProvider, "CONVERSE_DEFAULT_PROVIDER")

	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.Model, "OPENAI_CHAT_MODEL")
	setString(&c.OpenAI.Flavor, "OPENAI_FLAVOR")
	setString(&c.OpenAI.ProxyURL, "OPENAI_PROXY_URL")

	setString(&c.NATS.URL, "NATS_URL")

	// Legacy toggle: a truthy USE_OPENAI makes the remote provider the
	// default for unhinted requests.
	if raw, ok := os.LookupEnv("USE_OPENAI"); ok {
		if on, err := strconv.ParseBool(raw); err == nil && on {
			c.DefaultProvider = provider.NameRemote
		}
	}
}

func (c *Config) validate() error {
	switch c.DefaultProvider {
	case provider.NameEcho, provider.NameRemote:
		return nil
	default:
		return fmt.Errorf("unknown default provider %q", c.DefaultProvider)
	}
}

// Params returns the configured sampling defaults, clamped to the
// documented bounds.
func (c Config) Params() provider.GenerationParams {
	p := provider.GenerationParams{
		Model:       c.OpenAI.Model,
		Temperature: c.Defaults.Temperature,
		TopP:        c.Defaults.TopP,
		MaxTokens:   c.Defaults.MaxTokens,
	}
	return p.Clamp()
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
