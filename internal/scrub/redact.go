// Package scrub removes credentials from headers and error messages before
// they reach logs or metrics.
package scrub

import (
	"net/http"
	"strings"

	"github.com/prilive-com/upguard/upstream"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

var sensitive = []string{"authorization", "api-key", "secret"}

// IsSensitive reports whether a header name carries a credential.
// Matching is a case-insensitive substring test.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Headers flattens h into a map safe to log or store.
func Headers(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		if IsSensitive(name) {
			out[name] = Marker
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// SecretFromError removes secret values from error messages.
// Go's http.Client.Do() includes the request URL in error strings, and some
// upstreams take credentials as query parameters.
// Preserves the error chain for errors.Is/As via Unwrap().
func SecretFromError(err error, secrets ...upstream.Secret) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	changed := false
	for _, s := range secrets {
		v := s.Value()
		if v == "" || !strings.Contains(msg, v) {
			continue
		}
		msg = strings.ReplaceAll(msg, v, Marker)
		changed = true
	}
	if !changed {
		return err
	}
	return &scrubbedError{msg: msg, err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
