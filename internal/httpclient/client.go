// Package httpclient builds the *http.Client shared by executors and
// health probes. Per-request deadlines come from the caller's context, so
// the client itself carries no Timeout.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent is sent when a request sets none.
const DefaultUserAgent = "upguard/1"

// Config holds transport settings.
type Config struct {
	UserAgent string

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration // Zero leaves it to the request context
	IdleConnTimeout       time.Duration

	// Pool sizing. Upstreams are few and mostly distinct hosts, so the
	// per-host limits matter more than the total.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int

	InsecureSkipVerify bool // Tests only
}

// DefaultConfig sizes the pool for a handful of upstream hosts.
func DefaultConfig() Config {
	return Config{
		UserAgent:           DefaultUserAgent,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		MaxConnsPerHost:     32,
	}
}

// New creates a client from cfg.
func New(cfg Config) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
	if cfg.UserAgent == "" {
		return &http.Client{Transport: base}
	}
	return &http.Client{Transport: &userAgent{base: base, value: cfg.UserAgent}}
}

// NewDefault creates a client with DefaultConfig.
func NewDefault() *http.Client {
	return New(DefaultConfig())
}

// Base returns the *http.Transport under c, or nil for foreign transports.
func Base(c *http.Client) *http.Transport {
	switch t := c.Transport.(type) {
	case *http.Transport:
		return t
	case *userAgent:
		return t.base
	}
	return nil
}

// CloseIdle releases pooled connections. A nil client is ignored.
func CloseIdle(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}

type userAgent struct {
	base  *http.Transport
	value string
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.base.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.value)
	return u.base.RoundTrip(r)
}

func (u *userAgent) CloseIdleConnections() { u.base.CloseIdleConnections() }
