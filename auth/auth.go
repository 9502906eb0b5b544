// Package auth produces the credentials attached to each outgoing request.
//
// Four strategies are supported: none, apiKey (a static header), bearer
// (a static Authorization token) and signed-token (a short-lived ES256 JWT
// minted per request and never cached).
package auth

import (
	"context"
	"maps"
	"net/http"
	"net/url"

	"github.com/prilive-com/upguard/upstream"
)

// Request describes the call being authenticated. URL may be nil for
// stream tokens.
type Request struct {
	Method string
	URL    *url.URL
	Body   []byte
}

// Provider produces credentials for one upstream.
type Provider interface {
	// Headers returns the headers to add to req.
	Headers(ctx context.Context, req Request) (http.Header, error)
	// Token returns the bare credential, used in stream subscriptions.
	Token(ctx context.Context, req Request) (string, error)
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	clock upstream.Clock
	nonce func() string
}

// WithClock sets the clock used for token timestamps.
func WithClock(c upstream.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithNonce overrides the JWT nonce generator.
func WithNonce(fn func() string) Option {
	return func(o *options) {
		o.nonce = fn
	}
}

// New builds the Provider for cfg. Missing or unparsable secrets fail here
// with a *upstream.ConfigError so no request is ever sent without them.
func New(api string, cfg upstream.AuthConfig, opts ...Option) (Provider, error) {
	o := options{clock: upstream.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(api); err != nil {
		return nil, err
	}

	static := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		static.Set(k, v)
	}

	switch cfg.Type {
	case upstream.AuthAPIKey:
		header := cfg.Header
		if header == "" {
			header = upstream.DefaultAPIKeyHeader
		}
		return &apiKey{static: static, header: header, key: cfg.Key}, nil
	case upstream.AuthBearer:
		return &bearer{static: static, token: cfg.Token}, nil
	case upstream.AuthSignedToken:
		return newSigned(api, cfg, static, o)
	default:
		return &none{static: static}, nil
	}
}

func withStatic(static http.Header) http.Header {
	h := make(http.Header, len(static)+1)
	maps.Copy(h, static)
	return h
}

type none struct {
	static http.Header
}

func (n *none) Headers(context.Context, Request) (http.Header, error) {
	return withStatic(n.static), nil
}

func (n *none) Token(context.Context, Request) (string, error) { return "", nil }

type apiKey struct {
	static http.Header
	header string
	key    upstream.Secret
}

func (a *apiKey) Headers(context.Context, Request) (http.Header, error) {
	h := withStatic(a.static)
	h.Set(a.header, a.key.Value())
	return h, nil
}

func (a *apiKey) Token(context.Context, Request) (string, error) { return a.key.Value(), nil }

type bearer struct {
	static http.Header
	token  upstream.Secret
}

func (b *bearer) Headers(context.Context, Request) (http.Header, error) {
	h := withStatic(b.static)
	h.Set("Authorization", "Bearer "+b.token.Value())
	return h, nil
}

func (b *bearer) Token(context.Context, Request) (string, error) { return b.token.Value(), nil }
