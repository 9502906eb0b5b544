package upstream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prilive-com/upguard/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *upstream.Error
		expected string
	}{
		{
			name:     "http error",
			err:      upstream.NewHTTPError("coinbase", 503, []byte("unavailable")),
			expected: "upguard: coinbase: upstream_http (status=503)",
		},
		{
			name:     "with cause",
			err:      upstream.NewError("taapi", upstream.CodeNetwork, errors.New("connection refused")),
			expected: "upguard: taapi: network: connection refused",
		},
		{
			name:     "bare",
			err:      upstream.NewError("grok", upstream.CodeCircuitOpen, nil),
			expected: "upguard: grok: circuit_open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_SentinelMatching(t *testing.T) {
	tests := []struct {
		code     upstream.Code
		sentinel error
	}{
		{upstream.CodeConfiguration, upstream.ErrConfiguration},
		{upstream.CodeRateLimited, upstream.ErrRateLimited},
		{upstream.CodeCircuitOpen, upstream.ErrCircuitOpen},
		{upstream.CodeUnhealthy, upstream.ErrUnhealthy},
		{upstream.CodeUpstreamHTTP, upstream.ErrUpstreamHTTP},
		{upstream.CodeNetwork, upstream.ErrNetwork},
		{upstream.CodeTimeout, upstream.ErrTimeout},
		{upstream.CodeNotRegistered, upstream.ErrNotRegistered},
		{upstream.CodeShutdown, upstream.ErrShutdown},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", upstream.NewError("api", tt.code, nil))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	err := upstream.NewError("api", upstream.CodeCanceled, context.Canceled)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, upstream.CodeCanceled, upstream.CodeOf(err))
}

func TestError_As(t *testing.T) {
	err := fmt.Errorf("outer: %w", upstream.NewHTTPError("coinbase", 404, []byte(`{"message":"nope"}`)))

	var uerr *upstream.Error
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "coinbase", uerr.API)
	assert.Equal(t, 404, uerr.Status)
	assert.Equal(t, `{"message":"nope"}`, uerr.Body)
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *upstream.Error
		retryable bool
	}{
		{"400", upstream.NewHTTPError("a", 400, nil), false},
		{"404", upstream.NewHTTPError("a", 404, nil), false},
		{"429", upstream.NewHTTPError("a", 429, nil), false},
		{"500", upstream.NewHTTPError("a", 500, nil), true},
		{"503", upstream.NewHTTPError("a", 503, nil), true},
		{"network", upstream.NewError("a", upstream.CodeNetwork, nil), true},
		{"timeout", upstream.NewError("a", upstream.CodeTimeout, nil), true},
		{"rate limited", upstream.NewError("a", upstream.CodeRateLimited, nil), false},
		{"circuit open", upstream.NewError("a", upstream.CodeCircuitOpen, nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
		})
	}
}

func TestNewHTTPError_TruncatesBody(t *testing.T) {
	body := make([]byte, 5000)
	for i := range body {
		body[i] = 'x'
	}

	err := upstream.NewHTTPError("a", 500, body)
	assert.Len(t, err.Body, 2048)
}

func TestCodeOf_NonUpstreamError(t *testing.T) {
	assert.Equal(t, upstream.Code(""), upstream.CodeOf(errors.New("plain")))
	assert.Equal(t, upstream.Code(""), upstream.CodeOf(nil))
}

func TestConfigError(t *testing.T) {
	err := upstream.NewConfigError("coinbase", "auth.privateKey", "required")

	assert.Equal(t, "upguard: config: coinbase: auth.privateKey - required", err.Error())
	assert.ErrorIs(t, err, upstream.ErrConfiguration)

	bare := upstream.NewConfigError("", "name", "cannot be empty")
	assert.Equal(t, "upguard: config: name - cannot be empty", bare.Error())
}
