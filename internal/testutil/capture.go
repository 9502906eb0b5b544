package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Capture is one request received by MockUpstream.
type Capture struct {
	Seq     int // Arrival order, starting at 1
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    []byte
	At      time.Time
}

// Bearer returns the token of an "Authorization: Bearer" header, or "".
func (c *Capture) Bearer() string {
	tok, ok := strings.CutPrefix(c.Headers.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return tok
}

// JSON decodes the body as a JSON object.
func (c *Capture) JSON(t *testing.T) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(c.Body, &body), "request %d: body is not a JSON object", c.Seq)
	return body
}

func (c *Capture) AssertMethod(t *testing.T, expected string) {
	t.Helper()
	assert.Equal(t, expected, c.Method, "request %d: method", c.Seq)
}

func (c *Capture) AssertPath(t *testing.T, expected string) {
	t.Helper()
	assert.Equal(t, expected, c.Path, "request %d: path", c.Seq)
}

// AssertHeader checks the first value of key.
func (c *Capture) AssertHeader(t *testing.T, key, expected string) {
	t.Helper()
	assert.Equal(t, expected, c.Headers.Get(key), "request %d: header %s", c.Seq, key)
}

func (c *Capture) AssertNoHeader(t *testing.T, key string) {
	t.Helper()
	assert.NotContains(t, c.Headers, http.CanonicalHeaderKey(key), "request %d: header %s", c.Seq, key)
}

// AssertQuery checks the first value of a query parameter.
func (c *Capture) AssertQuery(t *testing.T, key, expected string) {
	t.Helper()
	if !assert.True(t, c.Query.Has(key), "request %d: query %s missing", c.Seq, key) {
		return
	}
	assert.Equal(t, expected, c.Query.Get(key), "request %d: query %s", c.Seq, key)
}

// AssertJSONField checks a top-level field of the JSON body. Numbers
// decode as float64.
func (c *Capture) AssertJSONField(t *testing.T, field string, expected any) {
	t.Helper()
	assert.Equal(t, expected, c.JSON(t)[field], "request %d: body field %s", c.Seq, field)
}
