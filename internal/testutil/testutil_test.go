package testutil_test

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/testutil"
	"github.com/prilive-com/upguard/upstream"
)

func TestMockUpstream_CapturesRequests(t *testing.T) {
	srv := testutil.NewMockUpstream(t)

	resp, err := http.Post(srv.URL+"/v1/items?limit=5", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, srv.CaptureCount())

	c := srv.LastCapture()
	c.AssertMethod(t, "POST")
	c.AssertPath(t, "/v1/items")
	c.AssertQuery(t, "limit", "5")
	c.AssertJSONField(t, "a", float64(1))
	assert.Equal(t, 1, srv.CountPath("/v1/items"))

	srv.ResetCaptures()
	assert.Zero(t, srv.CaptureCount())
	assert.Nil(t, srv.LastCapture())
}

func TestSequenceHandler_RepeatsLast(t *testing.T) {
	srv := testutil.NewMockUpstream(t)
	srv.On("GET", "/x", testutil.SequenceHandler(500, 200))

	var got []int
	for range 3 {
		resp, err := http.Get(srv.URL + "/x")
		require.NoError(t, err)
		resp.Body.Close()
		got = append(got, resp.StatusCode)
	}

	assert.Equal(t, []int{500, 200, 200}, got)
}

func TestFakeSleeper_Records(t *testing.T) {
	var hooked []time.Duration
	s := &testutil.FakeSleeper{OnSleep: func(d time.Duration) { hooked = append(hooked, d) }}

	require.NoError(t, s.Sleep(context.Background(), time.Second))
	require.NoError(t, s.Sleep(context.Background(), 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.Calls())
	assert.Equal(t, 3*time.Second, s.Total())
	assert.Equal(t, s.Calls(), hooked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Sleep(ctx, time.Second))
	assert.Equal(t, 2, s.CallCount())
}

func TestFakeSleeper_AdvancesClock(t *testing.T) {
	clock := testutil.NewFakeClock()
	start := clock.Now()
	s := &testutil.FakeSleeper{Clock: clock}

	require.NoError(t, s.Sleep(context.Background(), 2*time.Second))
	assert.Equal(t, 2*time.Second, clock.Now().Sub(start))
}

func TestCapture_Helpers(t *testing.T) {
	srv := testutil.NewMockUpstream(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(`{"model":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	c := srv.LastCapture()
	require.NotNil(t, c)
	assert.Equal(t, 1, c.Seq)
	assert.Equal(t, "tok", c.Bearer())
	assert.Equal(t, "x", c.JSON(t)["model"])
	c.AssertNoHeader(t, "X-API-Key")
}

func TestFakeClock_Advance(t *testing.T) {
	c := testutil.NewFakeClock()
	start := c.Now()
	c.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Now().Sub(start))
}

func TestEventRecorder(t *testing.T) {
	r := &testutil.EventRecorder{}
	r.Observe(upstream.Event{Kind: upstream.KindHealthUpdate})
	r.Emit(upstream.Event{Kind: upstream.KindAPICritical})
	r.Emit(upstream.Event{Kind: upstream.KindHealthUpdate})

	assert.Equal(t, 2, r.Count(upstream.KindHealthUpdate))
	assert.Equal(t, []upstream.Kind{
		upstream.KindHealthUpdate, upstream.KindAPICritical, upstream.KindHealthUpdate,
	}, r.Kinds())
	assert.Len(t, r.WaitFor(t, upstream.KindAPICritical, 1, time.Second), 1)
}

func TestECKey_IsSEC1PEM(t *testing.T) {
	key, pemStr := testutil.ECKey(t)

	block, _ := pem.Decode([]byte(pemStr))
	require.NotNil(t, block)
	assert.Equal(t, "EC PRIVATE KEY", block.Type)

	parsed, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestUpstreamConfig_Valid(t *testing.T) {
	assert.NoError(t, testutil.UpstreamConfig("x", "http://127.0.0.1:1").Validate())
}

func TestWSServer_RoundTrip(t *testing.T) {
	srv := testutil.NewWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	got := srv.WaitForReceived(t, 1, time.Second)
	assert.JSONEq(t, `{"type":"subscribe"}`, string(got[0]))

	srv.Send([]byte(`{"price":1}`))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":1}`, string(data))
	assert.Equal(t, 1, srv.Connects())
}

func TestWSServer_Reject(t *testing.T) {
	srv := testutil.NewWSServer(t)
	srv.Reject(true)

	_, resp, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestLogBuffer(t *testing.T) {
	var buf testutil.LogBuffer
	buf.Logger().Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	testutil.DiscardLogger().Info("dropped")
}
