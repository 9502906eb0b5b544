package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSServer is a fake streaming upstream.
type WSServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Bool
	connects atomic.Int32

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]byte
}

// NewWSServer starts a websocket server closed at test cleanup.
func NewWSServer(t *testing.T) *WSServer {
	t.Helper()
	s := &WSServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.DropAll()
		s.Server.Close()
	})
	return s
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.connects.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, data)
		s.mu.Unlock()
	}
}

// URL returns the ws:// address of the server.
func (s *WSServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Reject makes subsequent upgrade attempts fail with 503.
func (s *WSServer) Reject(v bool) { s.reject.Store(v) }

// Connects returns the number of accepted connections.
func (s *WSServer) Connects() int { return int(s.connects.Load()) }

// Send writes a text frame to every open connection.
func (s *WSServer) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

// DropAll closes every open connection without a close handshake.
func (s *WSServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// Received returns every frame read from clients.
func (s *WSServer) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.received...)
}

// WaitForReceived blocks until n frames arrived or fails the test.
func (s *WSServer) WaitForReceived(t *testing.T, n int, timeout time.Duration) [][]byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if got := s.Received(); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames (got %d)", n, len(s.Received()))
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForConnects blocks until n connections were accepted or fails the test.
func (s *WSServer) WaitForConnects(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.Connects() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections (got %d)", n, s.Connects())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
