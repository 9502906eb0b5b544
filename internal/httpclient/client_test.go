package httpclient_test

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/httpclient"
	"github.com/prilive-com/upguard/internal/testutil"
)

func TestNew_AppliesConfig(t *testing.T) {
	cfg := httpclient.DefaultConfig()
	cfg.MaxConnsPerHost = 7
	c := httpclient.New(cfg)

	tr := httpclient.Base(c)
	require.NotNil(t, tr)
	assert.Equal(t, 7, tr.MaxConnsPerHost)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.Equal(t, 90*time.Second, tr.IdleConnTimeout)
	assert.Zero(t, c.Timeout, "deadlines come from the request context")
}

func TestNew_UserAgent(t *testing.T) {
	srv := testutil.NewMockUpstream(t)
	c := httpclient.NewDefault()

	resp, err := c.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	srv.LastCapture().AssertHeader(t, "User-Agent", httpclient.DefaultUserAgent)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err = c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	srv.LastCapture().AssertHeader(t, "User-Agent", "custom")
}

func TestNew_NoUserAgent(t *testing.T) {
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = ""
	c := httpclient.New(cfg)

	_, ok := c.Transport.(*http.Transport)
	assert.True(t, ok)
}

func TestCloseIdle_NilSafe(t *testing.T) {
	httpclient.CloseIdle(nil)
	httpclient.CloseIdle(httpclient.NewDefault())
}
