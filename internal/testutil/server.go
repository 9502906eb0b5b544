package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockUpstream is a fake HTTP upstream.
type MockUpstream struct {
	*httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	captures []Capture
}

// NewMockUpstream creates a mock upstream server.
// The server is automatically closed when the test completes.
// Unrouted requests get 200 {"ok":true}.
func NewMockUpstream(t *testing.T) *MockUpstream {
	t.Helper()

	m := &MockUpstream{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.captures = append(m.captures, Capture{
		Seq:     len(m.captures) + 1,
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Body:    body,
		At:      time.Now(),
	})
	handler, exists := m.handlers[r.Method+":"+r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}
	ReplyJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// On registers a handler for a method and path.
func (m *MockUpstream) On(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+":"+path] = handler
}

// Captures returns all captured requests.
func (m *MockUpstream) Captures() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Capture{}, m.captures...)
}

// LastCapture returns the most recent captured request.
func (m *MockUpstream) LastCapture() *Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captures) == 0 {
		return nil
	}
	c := m.captures[len(m.captures)-1]
	return &c
}

// CaptureCount returns the number of requests that reached the server.
func (m *MockUpstream) CaptureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

// CountPath returns how many captured requests hit path.
func (m *MockUpstream) CountPath(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.captures {
		if c.Path == path {
			n++
		}
	}
	return n
}

// ResetCaptures clears captures, keeping handlers.
func (m *MockUpstream) ResetCaptures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = m.captures[:0]
}

// ReplyJSON writes v as a JSON response with the given status.
func ReplyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusHandler replies with status and a small JSON error body.
func StatusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ReplyJSON(w, status, map[string]any{"error": http.StatusText(status)})
	}
}

// SequenceHandler replies with statuses in order, repeating the last one.
func SequenceHandler(statuses ...int) http.HandlerFunc {
	var mu sync.Mutex
	i := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status := statuses[min(i, len(statuses)-1)]
		i++
		mu.Unlock()
		StatusHandler(status)(w, r)
	}
}

// SlowHandler waits d (or until the client gives up) before replying 200.
func SlowHandler(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
		ReplyJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
