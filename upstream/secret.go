package upstream

import "log/slog"

const redacted = "[REDACTED]"

// Secret wraps a credential to prevent accidental logging.
// Implements fmt.Stringer, fmt.GoStringer, slog.LogValuer, and encoding.TextMarshaler.
type Secret string

// Value returns the actual secret.
// Only use this when building an outgoing request.
func (s Secret) Value() string { return string(s) }

// String returns a redacted placeholder (fmt.Stringer).
func (s Secret) String() string { return redacted }

// GoString returns redacted for %#v (fmt.GoStringer).
func (s Secret) GoString() string { return `upstream.Secret("[REDACTED]")` }

// LogValue returns a redacted value for slog (slog.LogValuer).
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText returns redacted bytes (encoding.TextMarshaler).
// Status snapshots and config dumps never carry the raw value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// IsEmpty reports whether the secret is unset.
func (s Secret) IsEmpty() bool {
	return s == ""
}
