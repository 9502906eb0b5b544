package health_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/health"
	"github.com/prilive-com/upguard/internal/testutil"
	"github.com/prilive-com/upguard/upstream"
)

func TestHTTPProbe_Healthy(t *testing.T) {
	server := testutil.NewMockUpstream(t)
	cfg := testutil.UpstreamConfig("svc", server.URL)
	cfg.Headers = map[string]string{"X-Client": "upguard"}

	creds, err := auth.New(cfg.Name, cfg.Auth)
	require.NoError(t, err)

	probe := health.NewHTTPProbe(cfg, creds)
	require.NoError(t, probe(context.Background()))

	c := server.LastCapture()
	require.NotNil(t, c)
	c.AssertMethod(t, http.MethodGet)
	c.AssertPath(t, "/health")
	c.AssertHeader(t, "X-API-Key", testutil.TestAPIKey)
	c.AssertHeader(t, "X-Client", "upguard")
}

func TestHTTPProbe_NoCredentials(t *testing.T) {
	server := testutil.NewMockUpstream(t)
	cfg := testutil.UpstreamConfig("svc", server.URL+"/")
	cfg.Health.Endpoint = "status"

	require.NoError(t, health.NewHTTPProbe(cfg, nil)(context.Background()))
	c := server.LastCapture()
	c.AssertPath(t, "/status")
	c.AssertNoHeader(t, "X-API-Key")
}

func TestHTTPProbe_ErrorStatus(t *testing.T) {
	server := testutil.NewMockUpstream(t)
	server.On(http.MethodGet, "/health", testutil.StatusHandler(http.StatusServiceUnavailable))

	err := health.NewHTTPProbe(testutil.UpstreamConfig("svc", server.URL), nil)(context.Background())
	require.Error(t, err)

	var uerr *upstream.Error
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "svc", uerr.API)
	assert.Equal(t, http.StatusServiceUnavailable, uerr.Status)
}

func TestHTTPProbe_RespectsDeadline(t *testing.T) {
	server := testutil.NewMockUpstream(t)
	server.On(http.MethodGet, "/health", testutil.SlowHandler(2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := health.NewHTTPProbe(testutil.UpstreamConfig("svc", server.URL), nil)(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPProbe_WithMonitor(t *testing.T) {
	server := testutil.NewMockUpstream(t)
	server.On(http.MethodGet, "/health", testutil.SequenceHandler(200, 500))
	cfg := testutil.UpstreamConfig("svc", server.URL)

	m, rec := newMonitor(t)
	start(t, m, rec, health.TargetFor(cfg, health.NewHTTPProbe(cfg, nil)))

	r, _ := m.Record("svc")
	assert.Equal(t, upstream.HealthHealthy, r.Status)

	r, err := m.Check(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, upstream.HealthDegraded, r.Status)
	assert.Contains(t, r.LastError, "status=500")
}
