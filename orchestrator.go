package upguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/executor"
	"github.com/prilive-com/upguard/health"
	"github.com/prilive-com/upguard/internal/httpclient"
	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/internal/syncutil"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/stream"
	"github.com/prilive-com/upguard/upstream"
)

// ErrHealthDisabled is returned by Check for upstreams registered with
// health monitoring disabled.
var ErrHealthDisabled = errors.New("upguard: health monitoring disabled")

// Orchestrator binds every registered upstream to its executor, health
// monitor and stream under one name.
type Orchestrator struct {
	logger     *slog.Logger
	clock      upstream.Clock
	store      store.Store
	recorder   telemetry.Recorder
	sleeper    resilience.Sleeper
	httpClient *http.Client
	ownsClient bool
	probes     ProbeFactory

	limiter *resilience.Limiter
	monitor *health.Monitor
	bus     *bus

	// ctx bounds the lifetime of every stream.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	members map[string]*member
	closed  atomic.Bool
}

// New creates an Orchestrator with no upstreams.
func New(opts ...Option) *Orchestrator {
	var cfg orchestratorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		logger:     cfg.logger,
		clock:      cfg.clock,
		store:      cfg.store,
		recorder:   cfg.recorder,
		sleeper:    cfg.sleeper,
		httpClient: cfg.httpClient,
		probes:     cfg.probes,
		members:    make(map[string]*member),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = upstream.SystemClock{}
	}
	if o.store == nil {
		o.store = store.NewMemory(o.clock)
	}
	if o.recorder == nil {
		o.recorder = telemetry.Nop{}
	}
	if o.sleeper == nil {
		o.sleeper = resilience.RealSleeper{}
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.NewDefault()
		o.ownsClient = true
	}
	if o.probes == nil {
		client := resty.NewWithClient(o.httpClient)
		o.probes = func(c upstream.Config, creds auth.Provider) health.Probe {
			return health.NewHTTPProbe(c, creds, health.WithProbeClient(client))
		}
	}

	o.bus = newBus(o.logger, o.clock)
	for _, obs := range cfg.observers {
		o.bus.subscribe(obs)
	}

	var limiterOpts []resilience.LimiterOption
	if cfg.globalRPS > 0 {
		limiterOpts = append(limiterOpts, resilience.WithGlobalLimit(cfg.globalRPS, cfg.globalBurst))
	}
	o.limiter = resilience.NewLimiter(o.store, limiterOpts...)

	o.monitor = health.New(o.bus.publish,
		health.WithLogger(o.logger),
		health.WithClock(o.clock),
		health.WithRecorder(o.recorder),
		health.WithStore(o.store),
	)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Register validates cfg and wires its credentials, limiter, breaker, health
// monitor and stream under cfg.Name. The config is copied; later changes by
// the caller have no effect.
func (o *Orchestrator) Register(cfg upstream.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Load() {
		return upstream.NewError(cfg.Name, upstream.CodeShutdown, nil)
	}
	if _, dup := o.members[cfg.Name]; dup {
		return fmt.Errorf("%w: %w",
			upstream.NewConfigError(cfg.Name, "name", "already registered"),
			upstream.ErrAlreadyRegistered,
		)
	}

	m, err := o.build(cfg)
	if err != nil {
		return err
	}
	o.members[cfg.Name] = m

	if !cfg.Health.Disabled {
		if err := o.monitor.StartMonitoring(health.TargetFor(cfg, m.probe)); err != nil {
			delete(o.members, cfg.Name)
			return err
		}
	}
	if m.stream != nil {
		if err := m.stream.Start(o.ctx); err != nil {
			o.monitor.StopMonitoring(cfg.Name)
			delete(o.members, cfg.Name)
			return err
		}
	}

	o.logger.Info("upstream registered",
		"upstream", cfg.Name,
		"base_url", cfg.BaseURL,
		"auth", string(cfg.Auth.Type),
		"stream", cfg.Stream != nil,
		"health", !cfg.Health.Disabled,
	)
	return nil
}

func (o *Orchestrator) build(cfg upstream.Config) (*member, error) {
	name := cfg.Name
	creds, err := auth.New(name, cfg.Auth, auth.WithClock(o.clock))
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(cfg,
		executor.WithLogger(o.logger),
		executor.WithHTTPClient(o.httpClient),
		executor.WithAuth(creds),
		executor.WithLimiter(o.limiter),
		executor.WithSleeper(o.sleeper),
		executor.WithClock(o.clock),
		executor.WithRecorder(o.recorder),
		executor.WithHealthGate(o.cachedHealth(name)),
		executor.WithTransitionHandler(func(from, to upstream.CircuitState) {
			o.bus.publish(upstream.Event{
				Kind: upstream.CircuitKind(to),
				API:  name,
				From: from,
				To:   to,
			})
		}),
	)
	if err != nil {
		return nil, err
	}

	m := &member{
		name:  name,
		cfg:   cfg,
		exec:  exec,
		probe: o.probes(cfg, creds),
		orch:  o,
	}

	if sc := cfg.Stream; sc != nil {
		streamCreds := creds
		if sc.Auth != nil {
			streamCreds, err = auth.New(name, *sc.Auth, auth.WithClock(o.clock))
			if err != nil {
				return nil, err
			}
		}
		m.stream, err = stream.New(stream.ConfigFor(cfg), stream.Subscription(*sc, streamCreds), o.bus.publish,
			stream.WithLogger(o.logger),
			stream.WithSleeper(o.sleeper),
			stream.WithClock(o.clock),
			stream.WithRecorder(o.recorder),
		)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (o *Orchestrator) cachedHealth(name string) executor.HealthGate {
	return func(ctx context.Context) (upstream.HealthStatus, bool) {
		status, ok, err := o.store.Health(ctx, name)
		if err != nil {
			o.logger.Warn("health cache unavailable", "upstream", name, "error", err)
			return "", false
		}
		return status, ok
	}
}

// Request sends method path with payload to the named upstream.
// Errors are *upstream.Error values; use errors.Is with the upstream
// sentinels or upstream.CodeOf to pick a fallback.
func (o *Orchestrator) Request(ctx context.Context, name, method, path string, payload any) (resp *upstream.Response, err error) {
	if o.closed.Load() {
		return nil, upstream.NewError(name, upstream.CodeShutdown, nil)
	}
	m := o.lookup(name)
	if m == nil {
		return nil, upstream.NewError(name, upstream.CodeNotRegistered, nil)
	}

	defer syncutil.Recover(func(perr error) {
		o.logger.Error("request panicked", "upstream", name, "method", method, "path", path, "error", perr)
		o.bus.publish(upstream.Event{Kind: upstream.KindGlobalError, API: name, Err: perr})
		resp, err = nil, upstream.NewError(name, upstream.CodeInternal, perr)
	})
	return m.exec.Execute(ctx, method, path, payload)
}

// Status returns a snapshot of every upstream keyed by name.
func (o *Orchestrator) Status() map[string]upstream.Status {
	out := make(map[string]upstream.Status)
	for _, m := range o.snapshot() {
		out[m.name] = m.status()
	}
	return out
}

// Healthy returns the cached health of name. A missing or expired entry
// reads as unknown.
func (o *Orchestrator) Healthy(ctx context.Context, name string) (upstream.HealthStatus, error) {
	if o.lookup(name) == nil {
		return upstream.HealthUnknown, upstream.NewError(name, upstream.CodeNotRegistered, nil)
	}
	status, ok, err := o.store.Health(ctx, name)
	if err != nil {
		return upstream.HealthUnknown, err
	}
	if !ok {
		return upstream.HealthUnknown, nil
	}
	return status, nil
}

// Check probes name immediately and returns its updated health record.
func (o *Orchestrator) Check(ctx context.Context, name string) (upstream.HealthRecord, error) {
	m := o.lookup(name)
	if m == nil {
		return upstream.HealthRecord{}, upstream.NewError(name, upstream.CodeNotRegistered, nil)
	}
	if m.cfg.Health.Disabled {
		return upstream.HealthRecord{}, fmt.Errorf("%w: %s", ErrHealthDisabled, name)
	}
	return o.monitor.Check(ctx, name)
}

// CheckAll probes every monitored upstream in parallel.
func (o *Orchestrator) CheckAll(ctx context.Context) map[string]upstream.HealthRecord {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]upstream.HealthRecord)
	)
	for _, m := range o.snapshot() {
		if m.cfg.Health.Disabled {
			continue
		}
		syncutil.Go(&wg, o.onPanic(m.name), func() {
			rec, err := o.monitor.Check(ctx, m.name)
			if err != nil {
				return
			}
			mu.Lock()
			out[m.name] = rec
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

// Summary counts monitored upstreams by health status.
func (o *Orchestrator) Summary() health.Summary {
	return o.monitor.Summary()
}

// Subscribe registers obs for every event. Call the returned function to
// unsubscribe.
func (o *Orchestrator) Subscribe(obs upstream.Observer) (cancel func()) {
	return o.bus.subscribe(obs)
}

// Upstream returns the capability view of name. Upstreams with a stream
// also implement Streamer.
func (o *Orchestrator) Upstream(name string) (Upstream, bool) {
	m := o.lookup(name)
	if m == nil {
		return nil, false
	}
	if m.stream != nil {
		return streamMember{m}, true
	}
	return m, true
}

// Names returns the registered upstream names in sorted order.
func (o *Orchestrator) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Sorted(maps.Keys(o.members))
}

// Rearm restarts a stream that gave up after its maximum reconnect attempts.
func (o *Orchestrator) Rearm(name string) error {
	if o.closed.Load() {
		return upstream.NewError(name, upstream.CodeShutdown, nil)
	}
	m := o.lookup(name)
	if m == nil {
		return upstream.NewError(name, upstream.CodeNotRegistered, nil)
	}
	if m.stream == nil {
		return fmt.Errorf("%w: %s", upstream.ErrStreamUnsupported, name)
	}
	return m.stream.Rearm(o.ctx)
}

// Shutdown stops every health schedule and stream, then releases idle
// connections. In-flight requests finish on their own deadlines. Later calls
// return nil; requests after Shutdown fail with ErrShutdown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed.Swap(true) {
		o.mu.Unlock()
		return nil
	}
	members := slices.Collect(maps.Values(o.members))
	o.mu.Unlock()

	o.logger.Info("shutting down", "upstreams", len(members))
	o.cancel()

	var wg sync.WaitGroup
	syncutil.Go(&wg, o.onPanic(""), o.monitor.StopAll)
	for _, m := range members {
		if m.stream != nil {
			syncutil.Go(&wg, o.onPanic(m.name), m.stream.Stop)
		}
	}
	err := syncutil.Wait(ctx, &wg)

	for _, m := range members {
		m.exec.Close()
	}
	if o.ownsClient {
		httpclient.CloseIdle(o.httpClient)
	}

	if err != nil {
		o.logger.Warn("shutdown incomplete", "error", err)
		return err
	}
	o.logger.Info("shutdown complete")
	return nil
}

func (o *Orchestrator) lookup(name string) *member {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.members[name]
}

func (o *Orchestrator) snapshot() []*member {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Collect(maps.Values(o.members))
}

func (o *Orchestrator) onPanic(name string) func(error) {
	return func(err error) {
		o.logger.Error("background task panicked", "upstream", name, "error", err)
		o.bus.publish(upstream.Event{Kind: upstream.KindGlobalError, API: name, Err: err})
	}
}
