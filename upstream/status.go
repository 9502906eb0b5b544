package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus is the classification produced by the health monitor.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// CircuitState mirrors the breaker state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// HistoryEntry is one probe outcome.
type HistoryEntry struct {
	Time    time.Time     `json:"time"`
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthRecord is the monitor's view of one upstream.
type HealthRecord struct {
	Status              HealthStatus   `json:"status"`
	LastCheck           time.Time      `json:"lastCheck"`
	LastSuccess         time.Time      `json:"lastSuccess"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	TotalChecks         int64          `json:"totalChecks"`
	TotalFailures       int64          `json:"totalFailures"`
	AverageResponseTime time.Duration  `json:"averageResponseTime"`
	LastError           string         `json:"lastError,omitempty"`
	History             []HistoryEntry `json:"history,omitempty"`
}

// ErrorRate returns TotalFailures/TotalChecks, or 0 before the first check.
func (r HealthRecord) ErrorRate() float64 {
	if r.TotalChecks == 0 {
		return 0
	}
	return float64(r.TotalFailures) / float64(r.TotalChecks)
}

// ErrorEntry is one failed request kept in the bounded error log.
// Headers are redacted before capture.
type ErrorEntry struct {
	Time    time.Time         `json:"time"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Code    Code              `json:"code"`
	Status  int               `json:"status,omitempty"`
	Message string            `json:"message"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Metrics is a snapshot of one upstream's request counters.
type Metrics struct {
	TotalRequests          int64         `json:"totalRequests"`
	SuccessfulRequests     int64         `json:"successfulRequests"`
	FailedRequests         int64         `json:"failedRequests"`
	RejectedRequests       int64         `json:"rejectedRequests"`
	CumulativeResponseTime time.Duration `json:"cumulativeResponseTime"`
	AverageResponseTime    time.Duration `json:"averageResponseTime"`
	SuccessRate            float64       `json:"successRate"`
	LastRequest            time.Time     `json:"lastRequest"`
	Errors                 []ErrorEntry  `json:"errors,omitempty"`
}

// StreamState is a snapshot of a stream connection.
type StreamState struct {
	Connected       bool      `json:"connected"`
	Halted          bool      `json:"halted"`
	Attempts        int       `json:"attempts"`
	LastConnectedAt time.Time `json:"lastConnectedAt"`
	Received        int64     `json:"received"`
	Dropped         int64     `json:"dropped"`
}

// Status is the per-upstream snapshot returned by the orchestrator.
type Status struct {
	API     string       `json:"api"`
	Circuit CircuitState `json:"circuitState"`
	Health  HealthRecord `json:"health"`
	Metrics Metrics      `json:"metrics"`
	Stream  *StreamState `json:"stream,omitempty"`
}

// Response is a successful upstream reply.
type Response struct {
	Status   int
	Header   http.Header
	Body     json.RawMessage
	Latency  time.Duration
	Attempts int
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("upguard: empty response body")
	}
	return json.Unmarshal(r.Body, v)
}
