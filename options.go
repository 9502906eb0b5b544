package upguard

import (
	"log/slog"
	"net/http"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/health"
	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

// ProbeFactory builds the health probe for a registered upstream.
type ProbeFactory func(cfg upstream.Config, creds auth.Provider) health.Probe

type orchestratorConfig struct {
	logger      *slog.Logger
	store       store.Store
	recorder    telemetry.Recorder
	clock       upstream.Clock
	sleeper     resilience.Sleeper
	httpClient  *http.Client
	globalRPS   float64
	globalBurst int
	probes      ProbeFactory
	observers   []upstream.Observer
}

// Option configures the Orchestrator.
type Option func(*orchestratorConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *orchestratorConfig) {
		c.logger = logger
	}
}

// WithStore sets the counter and health cache store shared by every
// upstream. The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(c *orchestratorConfig) {
		c.store = s
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r telemetry.Recorder) Option {
	return func(c *orchestratorConfig) {
		c.recorder = r
	}
}

// WithClock sets the clock for rate windows, timestamps and latency.
func WithClock(clock upstream.Clock) Option {
	return func(c *orchestratorConfig) {
		c.clock = clock
	}
}

// WithSleeper sets the sleeper for retry delays and stream reconnect backoff
// (useful for testing).
func WithSleeper(s resilience.Sleeper) Option {
	return func(c *orchestratorConfig) {
		c.sleeper = s
	}
}

// WithHTTPClient sets the HTTP client shared by every executor.
func WithHTTPClient(client *http.Client) Option {
	return func(c *orchestratorConfig) {
		c.httpClient = client
	}
}

// WithGlobalRateLimit caps the combined request rate across all upstreams.
func WithGlobalRateLimit(rps float64, burst int) Option {
	return func(c *orchestratorConfig) {
		c.globalRPS = rps
		c.globalBurst = burst
	}
}

// WithProbeFactory replaces the default HTTP health probe.
func WithProbeFactory(f ProbeFactory) Option {
	return func(c *orchestratorConfig) {
		c.probes = f
	}
}

// WithObserver subscribes o before any upstream is registered.
func WithObserver(o upstream.Observer) Option {
	return func(c *orchestratorConfig) {
		c.observers = append(c.observers, o)
	}
}
