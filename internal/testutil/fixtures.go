package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/upstream"
)

// Credentials used across tests. Each is distinctive so leak checks can grep for it.
const (
	TestAPIKey = "test-api-key-9f8e7d"
	TestBearer = "test-bearer-token-1a2b3c"
	TestKeyID  = "organizations/test/apiKeys/key-1"
)

// ECKey generates a P-256 key and returns it with its SEC1 PEM encoding.
func ECKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

// UpstreamConfig returns a fast, retry-free config pointed at baseURL.
func UpstreamConfig(name, baseURL string) upstream.Config {
	return upstream.Config{
		Name:       name,
		BaseURL:    baseURL,
		Auth:       upstream.AuthConfig{Type: upstream.AuthAPIKey, Key: TestAPIKey},
		RateLimit:  upstream.RateLimitConfig{Max: 1000, Window: time.Minute},
		Timeout:    2 * time.Second,
		Retries:    upstream.NoRetry,
		RetryDelay: 10 * time.Millisecond,
		Breaker: upstream.BreakerConfig{
			ErrorThresholdPct: 50,
			VolumeThreshold:   1000,
			ResetTimeout:      time.Minute,
			RollingWindow:     time.Minute,
		},
		Health: upstream.HealthConfig{Endpoint: "/health", Interval: time.Hour},
	}.WithDefaults()
}
