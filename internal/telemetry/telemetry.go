// Package telemetry exports upstream counters as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prilive-com/upguard/upstream"
)

// Recorder receives measurements from executors, the health monitor and
// stream managers.
type Recorder interface {
	ObserveRequest(api string, code upstream.Code, d time.Duration)
	ObserveRejection(api string, code upstream.Code)
	ObserveRetry(api string)
	SetCircuitState(api string, s upstream.CircuitState)
	ObserveProbe(api string, ok bool, d time.Duration)
	SetHealth(api string, s upstream.HealthStatus)
	ObserveStreamMessage(api string, dropped bool)
	SetStreamConnected(api string, connected bool)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRequest(string, upstream.Code, time.Duration) {}
func (Nop) ObserveRejection(string, upstream.Code)              {}
func (Nop) ObserveRetry(string)                                 {}
func (Nop) SetCircuitState(string, upstream.CircuitState)       {}
func (Nop) ObserveProbe(string, bool, time.Duration)            {}
func (Nop) SetHealth(string, upstream.HealthStatus)             {}
func (Nop) ObserveStreamMessage(string, bool)                   {}
func (Nop) SetStreamConnected(string, bool)                     {}

const outcomeSuccess = "success"

var (
	circuitStates = []upstream.CircuitState{upstream.CircuitClosed, upstream.CircuitOpen, upstream.CircuitHalfOpen}
	healthStates  = []upstream.HealthStatus{upstream.HealthUnknown, upstream.HealthHealthy, upstream.HealthDegraded, upstream.HealthCritical}
)

// Collector holds all Prometheus metrics.
type Collector struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Rejections      *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	Probes          *prometheus.CounterVec
	ProbeDuration   *prometheus.HistogramVec
	HealthState     *prometheus.GaugeVec
	StreamMessages  *prometheus.CounterVec
	StreamConnected *prometheus.GaugeVec
}

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upguard",
				Name:      "requests_total",
				Help:      "Requests that reached the transport, by outcome",
			},
			[]string{"api", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "upguard",
				Name:      "request_duration_seconds",
				Help:      "Latency of requests including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"api"},
		),
		Rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upguard",
				Name:      "rejections_total",
				Help:      "Requests rejected before the transport",
			},
			[]string{"api", "reason"},
		),
		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upguard",
				Name:      "retries_total",
				Help:      "Transport retries",
			},
			[]string{"api"},
		),
		CircuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "upguard",
				Name:      "circuit_state",
				Help:      "1 for the breaker's current state, 0 otherwise",
			},
			[]string{"api", "state"},
		),
		Probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upguard",
				Name:      "health_probes_total",
				Help:      "Health probes by result",
			},
			[]string{"api", "result"},
		),
		ProbeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "upguard",
				Name:      "health_probe_duration_seconds",
				Help:      "Health probe latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"api"},
		),
		HealthState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "upguard",
				Name:      "health_state",
				Help:      "1 for the upstream's current health status, 0 otherwise",
			},
			[]string{"api", "status"},
		),
		StreamMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upguard",
				Name:      "stream_messages_total",
				Help:      "Stream frames by disposition",
			},
			[]string{"api", "disposition"},
		),
		StreamConnected: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "upguard",
				Name:      "stream_connected",
				Help:      "1 while the stream is connected",
			},
			[]string{"api"},
		),
	}
}

func (c *Collector) ObserveRequest(api string, code upstream.Code, d time.Duration) {
	outcome := outcomeSuccess
	if code != "" {
		outcome = string(code)
	}
	c.Requests.WithLabelValues(api, outcome).Inc()
	c.RequestDuration.WithLabelValues(api).Observe(d.Seconds())
}

func (c *Collector) ObserveRejection(api string, code upstream.Code) {
	c.Rejections.WithLabelValues(api, string(code)).Inc()
}

func (c *Collector) ObserveRetry(api string) {
	c.Retries.WithLabelValues(api).Inc()
}

func (c *Collector) SetCircuitState(api string, s upstream.CircuitState) {
	for _, st := range circuitStates {
		v := 0.0
		if st == s {
			v = 1
		}
		c.CircuitState.WithLabelValues(api, string(st)).Set(v)
	}
}

func (c *Collector) ObserveProbe(api string, ok bool, d time.Duration) {
	result := "failure"
	if ok {
		result = outcomeSuccess
	}
	c.Probes.WithLabelValues(api, result).Inc()
	c.ProbeDuration.WithLabelValues(api).Observe(d.Seconds())
}

func (c *Collector) SetHealth(api string, s upstream.HealthStatus) {
	for _, st := range healthStates {
		v := 0.0
		if st == s {
			v = 1
		}
		c.HealthState.WithLabelValues(api, string(st)).Set(v)
	}
}

func (c *Collector) ObserveStreamMessage(api string, dropped bool) {
	disposition := "delivered"
	if dropped {
		disposition = "dropped"
	}
	c.StreamMessages.WithLabelValues(api, disposition).Inc()
}

func (c *Collector) SetStreamConnected(api string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	c.StreamConnected.WithLabelValues(api).Set(v)
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Collector)(nil)
)
