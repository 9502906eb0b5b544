package upstream

import (
	"encoding/json"
	"time"
)

// Kind identifies an orchestrator event. The set is closed.
type Kind string

const (
	KindHealthUpdate       Kind = "health-update"
	KindAPICritical        Kind = "api-critical"
	KindHighErrorRate      Kind = "high-error-rate"
	KindSlowResponse       Kind = "slow-response"
	KindStreamConnected    Kind = "ws:connected"
	KindStreamDisconnected Kind = "ws:disconnected"
	KindStreamMessage      Kind = "ws:message"
	KindStreamFailed       Kind = "ws:failed"
	KindCircuitOpen        Kind = "circuit:open"
	KindCircuitHalfOpen    Kind = "circuit:half-open"
	KindCircuitClosed      Kind = "circuit:closed"
	KindGlobalError        Kind = "global:error"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindHealthUpdate, KindAPICritical, KindHighErrorRate, KindSlowResponse,
	KindStreamConnected, KindStreamDisconnected, KindStreamMessage, KindStreamFailed,
	KindCircuitOpen, KindCircuitHalfOpen, KindCircuitClosed, KindGlobalError,
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// CircuitKind maps a breaker state to the event emitted on entering it.
func CircuitKind(to CircuitState) Kind {
	switch to {
	case CircuitOpen:
		return KindCircuitOpen
	case CircuitHalfOpen:
		return KindCircuitHalfOpen
	default:
		return KindCircuitClosed
	}
}

// Event is a typed lifecycle notification. Only the fields relevant to
// Kind are set.
type Event struct {
	ID   string // Assigned on publish
	Kind Kind
	API  string
	Time time.Time

	// Health kinds
	Health              HealthStatus
	ConsecutiveFailures int
	ErrorRate           float64
	Latency             time.Duration

	// Circuit kinds
	From CircuitState
	To   CircuitState

	// Stream kinds
	Attempt int
	Data    json.RawMessage

	Err error
}

// Observer receives events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Emitter publishes events; components take one instead of an Observer list.
type Emitter func(Event)
