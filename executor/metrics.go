package executor

import (
	"sync"
	"time"

	"github.com/prilive-com/upguard/internal/ring"
	"github.com/prilive-com/upguard/upstream"
)

// errorLogSize bounds the per-upstream error log.
const errorLogSize = 100

// metrics accumulates per-upstream counters. Each executor owns one, so one
// upstream's traffic never touches another's numbers.
type metrics struct {
	mu          sync.Mutex
	total       int64
	successful  int64
	failed      int64
	rejected    int64
	cumulative  time.Duration
	lastRequest time.Time
	errors      *ring.Buffer[upstream.ErrorEntry]
}

func newMetrics() *metrics {
	return &metrics{errors: ring.New[upstream.ErrorEntry](errorLogSize)}
}

func (m *metrics) success(at time.Time, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.successful++
	m.cumulative += latency
	m.lastRequest = at
}

func (m *metrics) failure(entry upstream.ErrorEntry, latency time.Duration) {
	m.mu.Lock()
	m.total++
	m.failed++
	m.cumulative += latency
	m.lastRequest = entry.Time
	m.mu.Unlock()
	m.errors.Push(entry)
}

func (m *metrics) rejection(entry upstream.ErrorEntry) {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
	m.errors.Push(entry)
}

func (m *metrics) snapshot() upstream.Metrics {
	m.mu.Lock()
	s := upstream.Metrics{
		TotalRequests:          m.total,
		SuccessfulRequests:     m.successful,
		FailedRequests:         m.failed,
		RejectedRequests:       m.rejected,
		CumulativeResponseTime: m.cumulative,
		LastRequest:            m.lastRequest,
	}
	m.mu.Unlock()

	if s.TotalRequests > 0 {
		s.AverageResponseTime = s.CumulativeResponseTime / time.Duration(s.TotalRequests)
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	}
	s.Errors = m.errors.Snapshot()
	return s
}

func (m *metrics) reset() {
	m.mu.Lock()
	m.total, m.successful, m.failed, m.rejected = 0, 0, 0, 0
	m.cumulative = 0
	m.lastRequest = time.Time{}
	m.mu.Unlock()
	m.errors.Reset()
}
