package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/internal/httpclient"
	"github.com/prilive-com/upguard/internal/scrub"
	"github.com/prilive-com/upguard/upstream"
)

// ProbeOption configures an HTTP probe.
type ProbeOption func(*httpProbe)

// WithProbeClient sets the resty client used for probes.
func WithProbeClient(c *resty.Client) ProbeOption {
	return func(p *httpProbe) {
		p.client = c
	}
}

type httpProbe struct {
	api     string
	target  string
	client  *resty.Client
	auth    auth.Provider
	headers map[string]string
	secrets []upstream.Secret
}

// NewHTTPProbe returns a Probe that GETs cfg.BaseURL + cfg.Health.Endpoint.
// The probe does not pass through the rate limiter or the circuit breaker,
// so an open circuit never hides a recovery. Any 2xx or 3xx reply is healthy.
// creds may be nil for unauthenticated health endpoints.
func NewHTTPProbe(cfg upstream.Config, creds auth.Provider, opts ...ProbeOption) Probe {
	p := &httpProbe{
		api:     cfg.Name,
		target:  strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Health.Endpoint, "/"),
		auth:    creds,
		headers: cfg.Headers,
		secrets: []upstream.Secret{cfg.Auth.Key, cfg.Auth.Token, cfg.Auth.PrivateKey},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = resty.NewWithClient(httpclient.NewDefault())
	}
	return p.probe
}

func (p *httpProbe) probe(ctx context.Context) error {
	req := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(p.headers)

	if p.auth != nil {
		u, err := url.Parse(p.target)
		if err != nil {
			return fmt.Errorf("health probe url: %w", err)
		}
		h, err := p.auth.Headers(ctx, auth.Request{Method: http.MethodGet, URL: u})
		if err != nil {
			return fmt.Errorf("health probe credentials: %w", err)
		}
		req.SetHeaderMultiValues(h)
	}

	resp, err := req.Get(p.target)
	if err != nil {
		return scrub.SecretFromError(err, p.secrets...)
	}
	if resp.IsError() {
		return upstream.NewHTTPError(p.api, resp.StatusCode(), resp.Body())
	}
	return nil
}
