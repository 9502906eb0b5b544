package upguard

import (
	"context"

	"github.com/prilive-com/upguard/executor"
	"github.com/prilive-com/upguard/health"
	"github.com/prilive-com/upguard/stream"
	"github.com/prilive-com/upguard/upstream"
)

// Upstream is the capability every registered upstream exposes.
type Upstream interface {
	Name() string
	Request(ctx context.Context, method, path string, payload any) (*upstream.Response, error)
	HealthProbe(ctx context.Context) error
}

// Streamer is implemented by upstreams configured with a stream.
type Streamer interface {
	Upstream
	Send(v any) error
	StreamState() upstream.StreamState
	Rearm() error
}

// member binds the per-upstream components registered under one name.
type member struct {
	name   string
	cfg    upstream.Config
	exec   *executor.Executor
	probe  health.Probe
	stream *stream.Manager
	orch   *Orchestrator
}

func (m *member) Name() string { return m.name }

func (m *member) Request(ctx context.Context, method, path string, payload any) (*upstream.Response, error) {
	return m.orch.Request(ctx, m.name, method, path, payload)
}

func (m *member) HealthProbe(ctx context.Context) error {
	return m.probe(ctx)
}

func (m *member) status() upstream.Status {
	st := upstream.Status{
		API:     m.name,
		Circuit: m.exec.CircuitState(),
		Metrics: m.exec.Metrics(),
		Health:  upstream.HealthRecord{Status: upstream.HealthUnknown},
	}
	if rec, ok := m.orch.monitor.Record(m.name); ok {
		st.Health = rec
	}
	if m.stream != nil {
		s := m.stream.State()
		st.Stream = &s
	}
	return st
}

// streamMember adds the Streamer capability.
type streamMember struct {
	*member
}

func (s streamMember) Send(v any) error { return s.stream.Send(v) }

func (s streamMember) StreamState() upstream.StreamState { return s.stream.State() }

func (s streamMember) Rearm() error { return s.orch.Rearm(s.name) }

var (
	_ Upstream = (*member)(nil)
	_ Streamer = streamMember{}
)
