package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prilive-com/upguard/internal/testutil"
	"github.com/prilive-com/upguard/upstream"
)

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	bad := printRecords(&buf, map[string]upstream.HealthRecord{
		"taapi": {Status: upstream.HealthHealthy, History: []upstream.HistoryEntry{{Success: true, Latency: 120 * time.Millisecond}}},
		"grok":  {Status: upstream.HealthCritical, LastError: "connection refused"},
	})

	assert.Equal(t, 1, bad)
	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("grok")), bytes.Index(buf.Bytes(), []byte("taapi")))
	assert.Contains(t, out, "120ms")
	assert.Contains(t, out, "connection refused")
}

func TestLogEvents(t *testing.T) {
	var lb testutil.LogBuffer
	logger = lb.Logger()

	logEvents(upstream.Event{Kind: upstream.KindCircuitOpen, API: "taapi", From: upstream.CircuitClosed, To: upstream.CircuitOpen})
	logEvents(upstream.Event{Kind: upstream.KindStreamMessage, API: "coinbase"})

	out := lb.String()
	assert.Contains(t, out, "circuit:open")
	assert.NotContains(t, out, "coinbase")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "upguard dev")
}
