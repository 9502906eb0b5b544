// Package health probes upstreams on a fixed schedule, independent of request
// traffic and of the circuit breaker, and classifies each one as healthy,
// degraded or critical.
//
// Schedules run on robfig/cron. Each upstream owns one cron entry; its
// EntryID is the handle used to cancel it.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/prilive-com/upguard/internal/ring"
	"github.com/prilive-com/upguard/internal/syncutil"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

// HistorySize bounds the per-upstream probe history.
const HistorySize = 100

// Probe checks one upstream. A nil error is a successful probe.
type Probe func(ctx context.Context) error

// Target describes one monitored upstream.
type Target struct {
	Name               string
	Probe              Probe
	Interval           time.Duration // At least upstream.MinHealthInterval
	Timeout            time.Duration // Per-probe deadline
	FailureThreshold   int           // Consecutive failures that make the upstream critical
	ErrorRateThreshold float64       // Lifetime failure ratio above which high-error-rate fires; negative means any
	SlowThreshold      time.Duration // Successful probes slower than this fire slow-response
	CacheTTL           time.Duration // Lifetime of the cached status in the store
}

// TargetFor builds a Target from an upstream's health settings.
func TargetFor(cfg upstream.Config, probe Probe) Target {
	cfg = cfg.WithDefaults()
	h := cfg.Health
	return Target{
		Name:               cfg.Name,
		Probe:              probe,
		Interval:           h.Interval,
		Timeout:            cfg.Timeout,
		FailureThreshold:   h.FailureThreshold,
		ErrorRateThreshold: h.ErrorRateThreshold,
		SlowThreshold:      h.SlowThreshold,
		CacheTTL:           h.CacheTTL,
	}
}

func (t Target) validate() error {
	if t.Name == "" {
		return upstream.NewConfigError("", "name", "cannot be empty")
	}
	if t.Probe == nil {
		return upstream.NewConfigError(t.Name, "health.probe", "required")
	}
	if t.Interval < upstream.MinHealthInterval {
		return upstream.NewConfigError(t.Name, "health.interval", "must be at least 1s")
	}
	return nil
}

// Summary counts upstreams by status.
type Summary struct {
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Critical int `json:"critical"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Monitor runs scheduled probes.
type Monitor struct {
	emit     upstream.Emitter
	logger   *slog.Logger
	clock    upstream.Clock
	recorder telemetry.Recorder
	cache    store.Store

	mu      sync.Mutex
	cron    *cron.Cron
	targets map[string]*target
	ctx     context.Context
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

type target struct {
	Target

	entry     cron.EntryID
	scheduled bool

	run sync.Mutex // serializes probes of this upstream

	mu        sync.Mutex
	rec       upstream.HealthRecord
	successes int64
	history   *ring.Buffer[upstream.HistoryEntry]
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithClock sets the clock used for timestamps and probe latency.
func WithClock(c upstream.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r telemetry.Recorder) Option {
	return func(m *Monitor) {
		m.recorder = r
	}
}

// WithStore writes each new status to s with the target's CacheTTL.
func WithStore(s store.Store) Option {
	return func(m *Monitor) {
		m.cache = s
	}
}

// New creates a Monitor. emit receives every health event; it may be nil.
func New(emit upstream.Emitter, opts ...Option) *Monitor {
	m := &Monitor{
		emit:    emit,
		targets: make(map[string]*target),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "health")
	if m.clock == nil {
		m.clock = upstream.SystemClock{}
	}
	if m.recorder == nil {
		m.recorder = telemetry.Nop{}
	}
	if m.emit == nil {
		m.emit = func(upstream.Event) {}
	}

	cl := cronLogger{m.logger}
	m.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// StartMonitoring schedules t and runs one probe immediately in the
// background. Restarting a stopped target keeps its record.
func (m *Monitor) StartMonitoring(t Target) error {
	if err := t.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tg, ok := m.targets[t.Name]
	if ok && tg.scheduled {
		return fmt.Errorf("%w: health monitor for %s", upstream.ErrAlreadyRunning, t.Name)
	}
	if !ok {
		tg = &target{
			rec:     upstream.HealthRecord{Status: upstream.HealthUnknown},
			history: ring.New[upstream.HistoryEntry](HistorySize),
		}
		m.targets[t.Name] = tg
	}
	tg.Target = t
	if tg.FailureThreshold <= 0 {
		tg.FailureThreshold = upstream.DefaultFailureThreshold
	}
	if tg.Timeout <= 0 {
		tg.Timeout = upstream.DefaultTimeout
	}

	if m.ctx.Err() != nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}
	ctx := m.ctx

	tg.entry = m.cron.Schedule(cron.Every(t.Interval), cron.FuncJob(func() {
		m.check(ctx, tg)
	}))
	tg.scheduled = true
	m.cron.Start()
	m.recorder.SetHealth(t.Name, upstream.HealthUnknown)

	syncutil.Go(&m.initial, m.onPanic(t.Name), func() {
		m.check(ctx, tg)
	})

	m.logger.Info("health monitoring started",
		"upstream", t.Name,
		"interval", t.Interval,
	)
	return nil
}

// StopMonitoring cancels the schedule of one upstream. Its record is kept.
func (m *Monitor) StopMonitoring(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tg, ok := m.targets[name]
	if !ok || !tg.scheduled {
		return
	}
	m.cron.Remove(tg.entry)
	tg.scheduled = false
	m.logger.Info("health monitoring stopped", "upstream", name)
}

// StopAll cancels every schedule and waits for in-flight probes.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	for _, tg := range m.targets {
		if tg.scheduled {
			m.cron.Remove(tg.entry)
			tg.scheduled = false
		}
	}
	m.cancel()
	stopped := m.cron.Stop()
	m.mu.Unlock()

	<-stopped.Done()
	m.initial.Wait()
	m.logger.Info("health monitoring stopped for all upstreams")
}

// Monitoring reports whether name has an active schedule.
func (m *Monitor) Monitoring(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tg, ok := m.targets[name]
	return ok && tg.scheduled
}

// Check probes name now and returns the updated record.
func (m *Monitor) Check(ctx context.Context, name string) (upstream.HealthRecord, error) {
	tg := m.lookup(name)
	if tg == nil {
		return upstream.HealthRecord{}, upstream.NewError(name, upstream.CodeNotRegistered, nil)
	}
	m.check(ctx, tg)
	return tg.snapshot(), nil
}

// Record returns the health record of name.
func (m *Monitor) Record(name string) (upstream.HealthRecord, bool) {
	tg := m.lookup(name)
	if tg == nil {
		return upstream.HealthRecord{}, false
	}
	return tg.snapshot(), true
}

// Records returns every health record keyed by upstream name.
func (m *Monitor) Records() map[string]upstream.HealthRecord {
	m.mu.Lock()
	targets := make(map[string]*target, len(m.targets))
	for name, tg := range m.targets {
		targets[name] = tg
	}
	m.mu.Unlock()

	out := make(map[string]upstream.HealthRecord, len(targets))
	for name, tg := range targets {
		out[name] = tg.snapshot()
	}
	return out
}

// Summary counts upstreams by status.
func (m *Monitor) Summary() Summary {
	var s Summary
	for _, rec := range m.Records() {
		s.Total++
		switch rec.Status {
		case upstream.HealthHealthy:
			s.Healthy++
		case upstream.HealthDegraded:
			s.Degraded++
		case upstream.HealthCritical:
			s.Critical++
		default:
			s.Unknown++
		}
	}
	return s
}

func (m *Monitor) lookup(name string) *target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[name]
}

func (m *Monitor) onPanic(name string) func(error) {
	return func(err error) {
		m.logger.Error("health check panicked", "upstream", name, "error", err)
		m.emit(upstream.Event{Kind: upstream.KindGlobalError, API: name, Time: m.clock.Now(), Err: err})
	}
}

// check runs one probe and publishes the outcome.
func (m *Monitor) check(ctx context.Context, tg *target) {
	tg.run.Lock()
	defer tg.run.Unlock()

	pctx, cancel := context.WithTimeout(ctx, tg.Timeout)
	start := m.clock.Now()
	var err error
	syncutil.Safe(func(p error) {
		err = fmt.Errorf("probe panicked: %w", p)
		m.onPanic(tg.Name)(p)
	}, func() {
		err = tg.Probe(pctx)
	})
	cancel()
	now := m.clock.Now()
	latency := now.Sub(start)

	events, status := tg.apply(now, latency, err)

	m.recorder.ObserveProbe(tg.Name, err == nil, latency)
	m.recorder.SetHealth(tg.Name, status)

	if m.cache != nil && tg.CacheTTL > 0 {
		if cerr := m.cache.SetHealth(ctx, tg.Name, status, tg.CacheTTL); cerr != nil {
			m.logger.Warn("failed to cache health status", "upstream", tg.Name, "error", cerr)
		}
	}

	if err != nil {
		m.logger.Warn("health check failed",
			"upstream", tg.Name,
			"status", string(status),
			"latency", latency,
			"error", err,
		)
	} else {
		m.logger.Debug("health check passed", "upstream", tg.Name, "latency", latency)
	}

	for _, e := range events {
		if e.Kind == upstream.KindAPICritical {
			m.logger.Error("upstream is critical",
				"upstream", tg.Name,
				"consecutive_failures", e.ConsecutiveFailures,
				"error", e.Err,
			)
		}
		m.emit(e)
	}
}

// apply folds one probe outcome into the record and returns the events it
// produces, in emission order.
func (tg *target) apply(now time.Time, latency time.Duration, err error) ([]upstream.Event, upstream.HealthStatus) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	r := &tg.rec
	prev := r.Status
	r.TotalChecks++
	r.LastCheck = now

	entry := upstream.HistoryEntry{Time: now, Success: err == nil, Latency: latency}
	base := upstream.Event{API: tg.Name, Time: now, Latency: latency}

	var events []upstream.Event

	if err == nil {
		r.Status = upstream.HealthHealthy
		r.ConsecutiveFailures = 0
		r.LastSuccess = now
		r.LastError = ""
		tg.successes++
		r.AverageResponseTime += (latency - r.AverageResponseTime) / time.Duration(tg.successes)
		tg.history.Push(entry)

		e := base
		e.Kind = upstream.KindHealthUpdate
		e.Health = upstream.HealthHealthy
		events = append(events, e)

		if tg.SlowThreshold > 0 && latency > tg.SlowThreshold {
			e := base
			e.Kind = upstream.KindSlowResponse
			e.Health = upstream.HealthHealthy
			events = append(events, e)
		}
		return events, r.Status
	}

	r.ConsecutiveFailures++
	r.TotalFailures++
	r.LastError = err.Error()
	if r.ConsecutiveFailures >= tg.FailureThreshold {
		r.Status = upstream.HealthCritical
	} else {
		r.Status = upstream.HealthDegraded
	}
	entry.Error = err.Error()
	tg.history.Push(entry)

	e := base
	e.Kind = upstream.KindHealthUpdate
	e.Health = r.Status
	e.ConsecutiveFailures = r.ConsecutiveFailures
	e.Err = err
	events = append(events, e)

	if rate := r.ErrorRate(); rate > max(tg.ErrorRateThreshold, 0) {
		e := base
		e.Kind = upstream.KindHighErrorRate
		e.Health = r.Status
		e.ErrorRate = rate
		events = append(events, e)
	}

	if r.Status == upstream.HealthCritical && prev != upstream.HealthCritical {
		e := base
		e.Kind = upstream.KindAPICritical
		e.Health = r.Status
		e.ConsecutiveFailures = r.ConsecutiveFailures
		e.Err = err
		events = append(events, e)
	}
	return events, r.Status
}

func (tg *target) snapshot() upstream.HealthRecord {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := tg.rec
	out.History = tg.history.Snapshot()
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
