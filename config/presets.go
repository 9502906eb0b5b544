package config

import (
	"maps"
	"slices"
	"time"

	"github.com/prilive-com/upguard/upstream"
)

// Preset is a known upstream: its config without secrets, plus the
// environment variables that hold them.
type Preset struct {
	Config upstream.Config
	Env    SecretEnv
}

// SecretEnv names the environment variables holding an upstream's secrets.
type SecretEnv struct {
	Key        string `yaml:"keyEnv"`
	Token      string `yaml:"tokenEnv"`
	KeyID      string `yaml:"keyIDEnv"`
	PrivateKey string `yaml:"privateKeyEnv"`
}

var presets = map[string]Preset{
	"coinbase": {
		Config: upstream.Config{
			BaseURL:   "https://api.coinbase.com",
			Auth:      upstream.AuthConfig{Type: upstream.AuthSignedToken},
			RateLimit: upstream.RateLimitConfig{Max: 10000, Window: time.Hour},
			Timeout:   10 * time.Second,
			Retries:   3,
			Health:    upstream.HealthConfig{Endpoint: "/v2/time"},
			Stream: &upstream.StreamConfig{
				URL: "wss://advanced-trade-ws.coinbase.com",
				Subscribe: map[string]any{
					"type":        "subscribe",
					"product_ids": []string{"BTC-USD", "ETH-USD"},
					"channel":     "ticker",
				},
				TokenField: "jwt",
			},
		},
		Env: SecretEnv{KeyID: "COINBASE_KEY_NAME", PrivateKey: "COINBASE_PRIVATE_KEY"},
	},
	"taapi": {
		Config: upstream.Config{
			BaseURL:   "https://api.taapi.io",
			Auth:      upstream.AuthConfig{Type: upstream.AuthAPIKey},
			RateLimit: upstream.RateLimitConfig{Max: 100, Window: time.Minute},
			Timeout:   15 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/ping"},
		},
		Env: SecretEnv{Key: "TAAPI_API_KEY"},
	},
	"twitterapi": {
		Config: upstream.Config{
			BaseURL:   "https://api.twitterapi.io",
			Auth:      upstream.AuthConfig{Type: upstream.AuthBearer},
			RateLimit: upstream.RateLimitConfig{Max: 1000, Window: 15 * time.Minute},
			Timeout:   10 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/v1/status"},
		},
		Env: SecretEnv{Token: "TWITTERAPI_API_KEY"},
	},
	"scrapingbee": {
		Config: upstream.Config{
			BaseURL:   "https://app.scrapingbee.com/api/v1",
			Auth:      upstream.AuthConfig{Type: upstream.AuthAPIKey},
			RateLimit: upstream.RateLimitConfig{Max: 1000, Window: time.Hour},
			Timeout:   30 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/ping"},
		},
		Env: SecretEnv{Key: "SCRAPINGBEE_API_KEY"},
	},
	"grok": {
		Config: upstream.Config{
			BaseURL:   "https://api.x.ai/v1",
			Auth:      upstream.AuthConfig{Type: upstream.AuthBearer},
			RateLimit: upstream.RateLimitConfig{Max: 100, Window: time.Minute},
			Timeout:   30 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/models"},
		},
		Env: SecretEnv{Token: "XAI_API_KEY"},
	},
	"perplexity": {
		Config: upstream.Config{
			BaseURL:   "https://api.perplexity.ai",
			Auth:      upstream.AuthConfig{Type: upstream.AuthBearer},
			RateLimit: upstream.RateLimitConfig{Max: 1000, Window: time.Hour},
			Timeout:   30 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/models"},
		},
		Env: SecretEnv{Token: "PERPLEXITY_API_KEY"},
	},
	"anthropic": {
		Config: upstream.Config{
			BaseURL: "https://api.anthropic.com",
			Auth: upstream.AuthConfig{
				Type:    upstream.AuthAPIKey,
				Header:  "x-api-key",
				Headers: map[string]string{"anthropic-version": "2023-06-01"},
			},
			RateLimit: upstream.RateLimitConfig{Max: 1000, Window: time.Minute},
			Timeout:   60 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/v1/models"},
		},
		Env: SecretEnv{Key: "ANTHROPIC_API_KEY"},
	},
	"coindesk": {
		Config: upstream.Config{
			BaseURL:   "https://api.coindesk.com/v1",
			Auth:      upstream.AuthConfig{Type: upstream.AuthNone},
			RateLimit: upstream.RateLimitConfig{Max: 100, Window: time.Minute},
			Timeout:   10 * time.Second,
			Retries:   2,
			Health:    upstream.HealthConfig{Endpoint: "/articles"},
		},
	},
}

// LookupPreset returns a deep copy of the named preset with Config.Name set.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, false
	}
	p.Config = p.Config.Clone()
	p.Config.Name = name
	return p, true
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}
