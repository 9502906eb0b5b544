// Package executor runs requests against one upstream through the full
// resilience pipeline: rate limit, circuit breaker, authentication, HTTP
// with a per-attempt timeout, and bounded linear retry.
//
// Every upstream gets its own Executor, so limiter counters, breaker state
// and metrics never leak between upstreams.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/internal/httpclient"
	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/internal/scrub"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

const (
	maxResponseSize = 10 << 20 // 10MB
)

// HealthGate reports the cached health of the upstream. ok is false when
// nothing is known.
type HealthGate func(ctx context.Context) (status upstream.HealthStatus, ok bool)

// Executor is the per-upstream request pipeline.
type Executor struct {
	cfg          upstream.Config
	base         *url.URL
	httpClient   *http.Client
	ownsClient   bool
	logger       *slog.Logger
	auth         auth.Provider
	limiter      *resilience.Limiter
	breaker      *resilience.Breaker[*upstream.Response]
	sleeper      resilience.Sleeper
	clock        upstream.Clock
	recorder     telemetry.Recorder
	gate         HealthGate
	onTransition func(from, to upstream.CircuitState)
	metrics      *metrics
	secrets      []upstream.Secret
}

// Option configures the Executor.
type Option func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.httpClient = client
	}
}

// WithAuth sets the credential provider. Without it one is built from the
// upstream's AuthConfig.
func WithAuth(p auth.Provider) Option {
	return func(e *Executor) {
		e.auth = p
	}
}

// WithLimiter sets the rate limiter, typically shared by every upstream of
// an orchestrator so the global bucket and store are common.
func WithLimiter(l *resilience.Limiter) Option {
	return func(e *Executor) {
		e.limiter = l
	}
}

// WithSleeper sets a custom sleeper for retry timing (useful for testing).
func WithSleeper(s resilience.Sleeper) Option {
	return func(e *Executor) {
		e.sleeper = s
	}
}

// WithClock sets the clock used for timestamps and the default limiter.
func WithClock(c upstream.Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r telemetry.Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithHealthGate supplies cached health for upstreams with GateRequests set.
func WithHealthGate(g HealthGate) Option {
	return func(e *Executor) {
		e.gate = g
	}
}

// WithTransitionHandler is called on every breaker state change, in order.
func WithTransitionHandler(fn func(from, to upstream.CircuitState)) Option {
	return func(e *Executor) {
		e.onTransition = fn
	}
}

// New creates an Executor for cfg. Zero-valued fields take defaults; an
// invalid config or missing secret returns a *upstream.ConfigError.
func New(cfg upstream.Config, opts ...Option) (*Executor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, upstream.NewConfigError(cfg.Name, "baseURL", err.Error())
	}

	e := &Executor{
		cfg:     cfg,
		base:    base,
		metrics: newMetrics(),
		secrets: []upstream.Secret{cfg.Auth.Key, cfg.Auth.Token, cfg.Auth.PrivateKey},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("upstream", cfg.Name)

	if e.clock == nil {
		e.clock = upstream.SystemClock{}
	}
	if e.httpClient == nil {
		e.httpClient = httpclient.NewDefault()
		e.ownsClient = true
	}
	if e.sleeper == nil {
		e.sleeper = resilience.RealSleeper{}
	}
	if e.recorder == nil {
		e.recorder = telemetry.Nop{}
	}
	if e.limiter == nil {
		e.limiter = resilience.NewLimiter(store.NewMemory(e.clock))
	}
	if e.auth == nil {
		p, err := auth.New(cfg.Name, cfg.Auth, auth.WithClock(e.clock))
		if err != nil {
			return nil, err
		}
		e.auth = p
	}

	bcfg := resilience.FromUpstream(cfg.Name, cfg.Breaker)
	bcfg.IsSuccessful = isBreakerSuccess
	if cfg.Breaker.CountClientErrors {
		bcfg.IsSuccessful = isBreakerSuccessStrict
	}
	bcfg.OnTransition = func(from, to upstream.CircuitState) {
		e.logger.Info("circuit breaker state changed",
			"from", string(from),
			"to", string(to),
		)
		e.recorder.SetCircuitState(cfg.Name, to)
		if e.onTransition != nil {
			e.onTransition(from, to)
		}
	}
	e.breaker = resilience.NewBreaker[*upstream.Response](bcfg)
	e.recorder.SetCircuitState(cfg.Name, upstream.CircuitClosed)

	return e, nil
}

// Name returns the upstream name.
func (e *Executor) Name() string { return e.cfg.Name }

// Config returns a copy of the upstream configuration.
func (e *Executor) Config() upstream.Config { return e.cfg.Clone() }

// CircuitState returns the breaker state.
func (e *Executor) CircuitState() upstream.CircuitState { return e.breaker.State() }

// Metrics returns a snapshot of the request counters.
func (e *Executor) Metrics() upstream.Metrics { return e.metrics.snapshot() }

// ResetMetrics zeroes the counters and clears the error log.
func (e *Executor) ResetMetrics() { e.metrics.reset() }

// Close releases idle connections of a client the executor created.
func (e *Executor) Close() {
	if e.ownsClient {
		httpclient.CloseIdle(e.httpClient)
	}
}

// Execute sends method path with payload through the pipeline.
//
// payload may be nil, []byte, json.RawMessage, string, url.Values, or any
// JSON-marshalable value. For GET, HEAD and DELETE, url.Values and
// map[string]string become the query string.
func (e *Executor) Execute(ctx context.Context, method, path string, payload any) (*upstream.Response, error) {
	method = strings.ToUpper(method)
	start := e.clock.Now()

	if err := ctx.Err(); err != nil {
		return nil, upstream.NewError(e.cfg.Name, upstream.CodeCanceled, err)
	}

	target, body, err := e.buildRequest(method, path, payload)
	if err != nil {
		return nil, err
	}

	if e.cfg.Health.GateRequests && e.gate != nil {
		if status, ok := e.gate(ctx); ok && status == upstream.HealthCritical {
			return nil, e.reject(start, method, path, upstream.CodeUnhealthy, nil)
		}
	}

	decision, lerr := e.limiter.Allow(ctx, e.cfg.Name, e.cfg.RateLimit)
	if lerr != nil {
		e.logger.Warn("rate limit store unavailable, admitting request", "error", lerr)
	}
	if !decision.Allowed {
		e.logger.Debug("request rate limited",
			"count", decision.Count,
			"limit", decision.Limit,
			"reset_at", decision.ResetAt,
			"global", decision.Global,
		)
		return nil, e.reject(start, method, path, upstream.CodeRateLimited, nil)
	}

	var (
		attempts    int
		lastHeaders map[string]string
	)
	resp, err := e.breaker.Execute(func() (*upstream.Response, error) {
		r, n, err := resilience.Retry(ctx, resilience.RetryPolicy{
			Retries:   max(e.cfg.Retries, 0),
			Delay:     e.cfg.RetryDelay,
			Sleeper:   e.sleeper,
			Retryable: isRetryable,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				e.recorder.ObserveRetry(e.cfg.Name)
				e.logger.Debug("retrying request",
					"method", method,
					"path", path,
					"attempt", attempt,
					"wait", wait,
					"error", err,
				)
			},
		}, func(attempt int) (*upstream.Response, error) {
			r, hdrs, err := e.attempt(ctx, method, target, body, attempt)
			lastHeaders = hdrs
			return r, err
		})
		attempts = n
		return r, err
	})

	latency := e.clock.Now().Sub(start)

	if err != nil && resilience.IsRejection(err) {
		return nil, e.reject(start, method, path, upstream.CodeCircuitOpen, err)
	}

	if err != nil {
		uerr := asUpstreamError(e.cfg.Name, err)
		uerr.Attempts = attempts
		e.metrics.failure(upstream.ErrorEntry{
			Time:    start,
			Method:  method,
			Path:    path,
			Code:    uerr.Code,
			Status:  uerr.Status,
			Message: uerr.Error(),
			Headers: lastHeaders,
		}, latency)
		e.recorder.ObserveRequest(e.cfg.Name, uerr.Code, latency)
		e.logger.Warn("upstream request failed",
			"method", method,
			"path", path,
			"code", string(uerr.Code),
			"status", uerr.Status,
			"attempts", attempts,
			"headers", lastHeaders,
		)
		return nil, uerr
	}

	resp.Latency = latency
	resp.Attempts = attempts
	e.metrics.success(start, latency)
	e.recorder.ObserveRequest(e.cfg.Name, "", latency)
	return resp, nil
}

func (e *Executor) reject(at time.Time, method, path string, code upstream.Code, cause error) error {
	e.metrics.rejection(upstream.ErrorEntry{
		Time:    at,
		Method:  method,
		Path:    path,
		Code:    code,
		Message: string(code),
	})
	e.recorder.ObserveRejection(e.cfg.Name, code)
	return upstream.NewError(e.cfg.Name, code, cause)
}

// attempt performs one HTTP exchange bounded by the configured timeout.
// It returns the redacted request headers for the error log.
func (e *Executor) attempt(ctx context.Context, method string, target *url.URL, body []byte, n int) (*upstream.Response, map[string]string, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, target.String(), reader)
	if err != nil {
		return nil, nil, upstream.NewError(e.cfg.Name, upstream.CodeConfiguration, err)
	}

	authHeaders, err := e.auth.Headers(actx, auth.Request{Method: method, URL: target, Body: body})
	if err != nil {
		return nil, nil, upstream.NewError(e.cfg.Name, upstream.CodeConfiguration, err)
	}
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range authHeaders {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	redacted := scrub.Headers(req.Header)
	e.logger.Debug("upstream request",
		"method", method,
		"path", target.Path,
		"attempt", n,
		"headers", redacted,
	)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, redacted, e.transportError(ctx, actx, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, redacted, e.transportError(ctx, actx, err)
	}
	if int64(len(data)) > maxResponseSize {
		return nil, redacted, upstream.NewError(e.cfg.Name, upstream.CodeNetwork, upstream.ErrResponseTooLarge)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, redacted, upstream.NewHTTPError(e.cfg.Name, resp.StatusCode, data)
	}

	out := &upstream.Response{Status: resp.StatusCode, Header: resp.Header}
	if len(data) > 0 {
		out.Body = json.RawMessage(data)
	}
	return out, redacted, nil
}

// transportError classifies a failed exchange. parent is the caller's
// context; attemptCtx carries the per-attempt timeout.
func (e *Executor) transportError(parent, attemptCtx context.Context, err error) error {
	err = scrub.SecretFromError(err, e.secrets...)
	if parent.Err() != nil {
		return upstream.NewError(e.cfg.Name, upstream.CodeCanceled, parent.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return upstream.NewError(e.cfg.Name, upstream.CodeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return upstream.NewError(e.cfg.Name, upstream.CodeTimeout, err)
	}
	return upstream.NewError(e.cfg.Name, upstream.CodeNetwork, err)
}

func (e *Executor) buildRequest(method, path string, payload any) (*url.URL, []byte, error) {
	target, err := url.Parse(e.base.String() + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, nil, upstream.NewError(e.cfg.Name, upstream.CodeConfiguration, fmt.Errorf("invalid path %q: %w", path, err))
	}

	queryable := method == http.MethodGet || method == http.MethodHead || method == http.MethodDelete

	switch v := payload.(type) {
	case nil:
		return target, nil, nil
	case []byte:
		return target, v, nil
	case json.RawMessage:
		return target, v, nil
	case string:
		return target, []byte(v), nil
	case url.Values:
		if queryable {
			mergeQuery(target, v)
			return target, nil, nil
		}
	case map[string]string:
		if queryable {
			q := make(url.Values, len(v))
			for k, s := range v {
				q.Set(k, s)
			}
			mergeQuery(target, q)
			return target, nil, nil
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, upstream.NewError(e.cfg.Name, upstream.CodeConfiguration, fmt.Errorf("marshal payload: %w", err))
	}
	return target, body, nil
}

func mergeQuery(u *url.URL, extra url.Values) {
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
}

func asUpstreamError(api string, err error) *upstream.Error {
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		return uerr
	}
	return upstream.NewError(api, upstream.CodeNetwork, err)
}

func isRetryable(err error) bool {
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		return uerr.IsRetryable()
	}
	return false
}

// isBreakerSuccess determines if an error should count as a circuit breaker failure.
// Only server errors (5xx), timeouts and network errors trip the breaker.
// Client errors (4xx), local configuration problems and caller cancellation do not.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var uerr *upstream.Error
	if !errors.As(err, &uerr) {
		return false
	}
	switch uerr.Code {
	case upstream.CodeUpstreamHTTP:
		return uerr.Status >= 400 && uerr.Status < 500
	case upstream.CodeCanceled, upstream.CodeConfiguration:
		return true
	}
	return false
}

// isBreakerSuccessStrict also counts client errors (4xx) as failures.
func isBreakerSuccessStrict(err error) bool {
	var uerr *upstream.Error
	if errors.As(err, &uerr) && uerr.Code == upstream.CodeUpstreamHTTP {
		return false
	}
	return isBreakerSuccess(err)
}
