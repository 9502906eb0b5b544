// Package testutil provides testing utilities for upguard.
//
// This package is intended for internal testing only and should not be imported
// by external packages.
//
// # Mock Upstream
//
// MockUpstream is an httptest server that records every request:
//
//	srv := testutil.NewMockUpstream(t)
//	srv.On("GET", "/health", testutil.StatusHandler(http.StatusServiceUnavailable))
//	cfg := testutil.UpstreamConfig("x", srv.URL)
//	...
//	srv.LastCapture().AssertHeader(t, "X-API-Key", testutil.TestAPIKey)
//
// # Stream Server
//
// WSServer accepts websocket connections, records inbound frames and lets a
// test push frames or drop connections.
//
// # Time
//
// FakeSleeper records sleep calls without sleeping; FakeClock is advanced by hand:
//
//	sleeper := &testutil.FakeSleeper{}
//	clock := testutil.NewFakeClock()
//	clock.Advance(time.Second)
//
// # Events and Logs
//
// EventRecorder is an upstream.Observer that keeps every event; LogBuffer
// captures JSON log output for redaction assertions.
package testutil
