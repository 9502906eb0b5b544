// Package stream keeps one persistent websocket connection per upstream.
//
// After every connect the Manager sends a subscription message, built fresh
// so signed tokens never go stale. Dropped connections are retried with
// capped linear backoff; after MaxAttempts consecutive failures the Manager
// emits ws:failed and halts until Rearm is called.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/internal/syncutil"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/upstream"
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("upguard: stream not connected")

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// SubscribeFunc builds the message sent after each connect. A nil message
// sends nothing.
type SubscribeFunc func(ctx context.Context) (any, error)

// Config describes one stream.
type Config struct {
	Name          string
	URL           string
	Header        http.Header // Extra handshake headers
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int
	PingInterval  time.Duration
}

// ConfigFor builds a stream Config from an upstream with a Stream section.
func ConfigFor(cfg upstream.Config) Config {
	cfg = cfg.WithDefaults()
	s := cfg.Stream
	if s == nil {
		return Config{Name: cfg.Name}
	}
	return Config{
		Name:          cfg.Name,
		URL:           s.URL,
		ReconnectBase: s.ReconnectBase,
		ReconnectCap:  s.ReconnectCap,
		MaxAttempts:   s.MaxAttempts,
		PingInterval:  s.PingInterval,
	}
}

// Manager owns the connection loop of one stream.
type Manager struct {
	cfg       Config
	subscribe SubscribeFunc
	emit      upstream.Emitter
	logger    *slog.Logger
	sleeper   resilience.Sleeper
	clock     upstream.Clock
	recorder  telemetry.Recorder
	dialer    *websocket.Dialer

	mu      sync.Mutex
	state   upstream.StreamState
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSleeper sets the sleeper used between reconnect attempts.
func WithSleeper(s resilience.Sleeper) Option {
	return func(m *Manager) {
		m.sleeper = s
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(c upstream.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r telemetry.Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// New creates a Manager. Nothing connects until Start.
func New(cfg Config, subscribe SubscribeFunc, emit upstream.Emitter, opts ...Option) (*Manager, error) {
	if cfg.Name == "" {
		return nil, upstream.NewConfigError("", "name", "cannot be empty")
	}
	if cfg.URL == "" {
		return nil, upstream.NewConfigError(cfg.Name, "stream.url", "required")
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = upstream.DefaultReconnectBase
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = upstream.DefaultReconnectCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = upstream.DefaultReconnectAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = upstream.DefaultPingInterval
	}

	m := &Manager{
		cfg:       cfg,
		subscribe: subscribe,
		emit:      emit,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "stream", "upstream", cfg.Name)
	if m.sleeper == nil {
		m.sleeper = resilience.RealSleeper{}
	}
	if m.clock == nil {
		m.clock = upstream.SystemClock{}
	}
	if m.recorder == nil {
		m.recorder = telemetry.Nop{}
	}
	if m.emit == nil {
		m.emit = func(upstream.Event) {}
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return m, nil
}

// Name returns the upstream name.
func (m *Manager) Name() string { return m.cfg.Name }

// Start launches the connection loop. The loop ends when ctx is done or
// Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("%w: stream %s", upstream.ErrAlreadyRunning, m.cfg.Name)
	}
	if m.state.Halted {
		return fmt.Errorf("upguard: stream %s halted after %d attempts, call Rearm", m.cfg.Name, m.state.Attempts)
	}

	if m.cancel != nil {
		m.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	syncutil.Go(&m.wg, m.onPanic, func() {
		m.loop(loopCtx)
	})
	return nil
}

// Rearm clears a halted stream and starts it again.
func (m *Manager) Rearm(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("%w: stream %s", upstream.ErrAlreadyRunning, m.cfg.Name)
	}
	m.state.Halted = false
	m.state.Attempts = 0
	m.mu.Unlock()

	m.logger.Info("stream re-armed")
	return m.Start(ctx)
}

// Stop closes the connection and waits for the loop to exit. It is safe to
// call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Send writes v as a JSON text frame on the open connection.
func (m *Manager) Send(v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return m.conn.WriteJSON(v)
}

// State returns a snapshot of the connection.
func (m *Manager) State() upstream.StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether the connection loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) onPanic(err error) {
	m.logger.Error("stream loop panicked", "error", err)
	m.mu.Lock()
	m.running = false
	m.state.Connected = false
	m.mu.Unlock()
	m.publish(upstream.Event{Kind: upstream.KindGlobalError, Err: err})
}

func (m *Manager) publish(e upstream.Event) {
	e.API = m.cfg.Name
	if e.Time.IsZero() {
		e.Time = m.clock.Now()
	}
	m.emit(e)
}

// loop connects, serves and reconnects until ctx ends or attempts run out.
// Only this goroutine dials, so reconnects never overlap.
func (m *Manager) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			m.logger.Info("stream stopped")
			return
		}

		m.mu.Lock()
		attempt := m.state.Attempts + 1
		if attempt > m.cfg.MaxAttempts {
			m.state.Halted = true
			m.mu.Unlock()

			m.logger.Error("stream reconnect attempts exhausted",
				"attempts", m.cfg.MaxAttempts,
				"error", err,
			)
			m.publish(upstream.Event{Kind: upstream.KindStreamFailed, Attempt: m.cfg.MaxAttempts, Err: err})
			return
		}
		m.state.Attempts = attempt
		m.mu.Unlock()

		wait := resilience.CappedBackoff(attempt, m.cfg.ReconnectBase, m.cfg.ReconnectCap)
		m.logger.Warn("stream reconnecting",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if serr := m.sleeper.Sleep(ctx, wait); serr != nil {
			m.logger.Info("stream stopped")
			return
		}
	}
}

// session runs one connection from dial to drop.
func (m *Manager) session(ctx context.Context) error {
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if err := m.sendSubscription(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	m.writeMu.Lock()
	m.conn = conn
	m.writeMu.Unlock()

	m.mu.Lock()
	m.state.Connected = true
	m.state.Attempts = 0
	m.state.LastConnectedAt = m.clock.Now()
	m.mu.Unlock()
	m.recorder.SetStreamConnected(m.cfg.Name, true)
	m.logger.Info("stream connected")
	m.publish(upstream.Event{Kind: upstream.KindStreamConnected})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	pingDone := make(chan struct{})
	var pings sync.WaitGroup
	pings.Go(func() {
		m.keepalive(conn, pingDone)
	})

	err = m.read(conn)

	close(pingDone)
	pings.Wait()

	m.writeMu.Lock()
	m.conn = nil
	m.writeMu.Unlock()
	_ = conn.Close()

	m.mu.Lock()
	m.state.Connected = false
	m.mu.Unlock()
	m.recorder.SetStreamConnected(m.cfg.Name, false)

	if ctx.Err() == nil {
		m.logger.Warn("stream disconnected", "error", err)
	}
	m.publish(upstream.Event{Kind: upstream.KindStreamDisconnected, Err: err})
	return err
}

func (m *Manager) sendSubscription(ctx context.Context, conn *websocket.Conn) error {
	if m.subscribe == nil {
		return nil
	}
	msg, err := m.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("build subscription: %w", err)
	}
	if msg == nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	return nil
}

// read forwards frames until the connection fails. Frames that are not
// valid JSON are dropped.
func (m *Manager) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if !json.Valid(data) {
			m.mu.Lock()
			m.state.Dropped++
			m.mu.Unlock()
			m.recorder.ObserveStreamMessage(m.cfg.Name, true)
			m.logger.Warn("dropping malformed stream frame", "size", len(data))
			continue
		}

		m.mu.Lock()
		m.state.Received++
		m.mu.Unlock()
		m.recorder.ObserveStreamMessage(m.cfg.Name, false)
		m.publish(upstream.Event{Kind: upstream.KindStreamMessage, Data: json.RawMessage(data)})
	}
}

func (m *Manager) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				m.logger.Debug("stream ping failed", "error", err)
				return
			}
		}
	}
}
