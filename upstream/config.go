package upstream

import (
	"fmt"
	"maps"
	"net/url"
	"time"
)

// AuthType selects how outgoing requests are authenticated.
type AuthType string

const (
	AuthNone        AuthType = "none"
	AuthAPIKey      AuthType = "apiKey"
	AuthBearer      AuthType = "bearer"
	AuthSignedToken AuthType = "signed-token"
)

// DefaultAPIKeyHeader is the header used by AuthAPIKey when none is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// AuthConfig describes credentials for one upstream.
type AuthConfig struct {
	Type AuthType

	// AuthAPIKey
	Header string // defaults to DefaultAPIKeyHeader
	Key    Secret

	// AuthBearer
	Token Secret

	// AuthSignedToken
	KeyID      string
	PrivateKey Secret // PEM (SEC1 or PKCS#8) or bare base64 body
	Issuer     string
	TokenTTL   time.Duration

	// Static headers added to every request (e.g. API version pins).
	Headers map[string]string
}

// Validate checks that the secrets required by the strategy are present.
func (a AuthConfig) Validate(api string) error {
	switch a.Type {
	case AuthNone, "":
		return nil
	case AuthAPIKey:
		if a.Key.IsEmpty() {
			return NewConfigError(api, "auth.key", "required for apiKey auth")
		}
	case AuthBearer:
		if a.Token.IsEmpty() {
			return NewConfigError(api, "auth.token", "required for bearer auth")
		}
	case AuthSignedToken:
		if a.KeyID == "" {
			return NewConfigError(api, "auth.keyID", "required for signed-token auth")
		}
		if a.PrivateKey.IsEmpty() {
			return NewConfigError(api, "auth.privateKey", "required for signed-token auth")
		}
		if a.TokenTTL < 0 {
			return NewConfigError(api, "auth.tokenTTL", "must not be negative")
		}
	default:
		return NewConfigError(api, "auth.type", fmt.Sprintf("unknown strategy %q", a.Type))
	}
	return nil
}

// RateLimitConfig is a fixed-window quota.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// BreakerConfig configures the per-upstream circuit breaker.
type BreakerConfig struct {
	ErrorThresholdPct float64       // Failure percentage that opens the circuit
	ResetTimeout      time.Duration // Time spent open before a half-open trial
	VolumeThreshold   uint32        // Minimum calls in the window before tripping
	RollingWindow     time.Duration // Counting bucket in the closed state

	// CountClientErrors makes 4xx responses breaker failures. By default
	// only 5xx, network errors and timeouts count.
	CountClientErrors bool
}

// HealthConfig configures periodic probing and the cached health flag.
type HealthConfig struct {
	Disabled           bool
	Endpoint           string        // Path probed relative to BaseURL
	Interval           time.Duration // At least MinHealthInterval
	CacheTTL           time.Duration
	FailureThreshold   int
	ErrorRateThreshold float64 // Zero selects the default; AnyFailure alerts on any failed check
	SlowThreshold      time.Duration
	GateRequests       bool // Reject requests while the cached status is critical
}

// StreamConfig configures an optional persistent stream.
type StreamConfig struct {
	URL           string
	Auth          *AuthConfig    // Stream credentials when they differ from request auth
	Subscribe     map[string]any // Subscription message sent after each connect
	TokenField    string         // Field of Subscribe that receives a fresh token
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int
	PingInterval  time.Duration
}

// Config is the immutable description of one upstream.
type Config struct {
	Name       string
	BaseURL    string
	Auth       AuthConfig
	Headers    map[string]string
	RateLimit  RateLimitConfig
	Timeout    time.Duration
	Retries    int // Zero selects DefaultRetries; NoRetry disables retries
	RetryDelay time.Duration
	Breaker    BreakerConfig
	Health     HealthConfig
	Stream     *StreamConfig
}

// Explicit zeros for fields whose zero value selects a default.
const (
	NoRetry    = -1
	AnyFailure = -1.0
)

// MinHealthInterval is the finest schedule the health monitor supports.
const MinHealthInterval = time.Second

// Defaults for optional Config fields.
const (
	DefaultTimeout            = 10 * time.Second
	DefaultRetries            = 3
	DefaultRetryDelay         = time.Second
	DefaultRateLimitMax       = 60
	DefaultRateLimitWindow    = time.Minute
	DefaultErrorThresholdPct  = 50
	DefaultResetTimeout       = 30 * time.Second
	DefaultVolumeThreshold    = 10
	DefaultRollingWindow      = 60 * time.Second
	DefaultHealthInterval     = 60 * time.Second
	DefaultHealthCacheTTL     = 30 * time.Second
	DefaultFailureThreshold   = 3
	DefaultErrorRateThreshold = 0.10
	DefaultSlowThreshold      = 5 * time.Second
	DefaultReconnectBase      = time.Second
	DefaultReconnectCap       = 10 * time.Second
	DefaultReconnectAttempts  = 5
	DefaultPingInterval       = 30 * time.Second
	DefaultTokenTTL           = 120 * time.Second
	DefaultTokenIssuer        = "coinbase-cloud"
)

// WithDefaults returns a deep copy of c with zero values replaced by defaults.
// WithDefaults is idempotent: sentinels such as NoRetry are kept as is.
func (c Config) WithDefaults() Config {
	out := c.Clone()
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Retries == 0 {
		out.Retries = DefaultRetries
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.RateLimit.Max == 0 {
		out.RateLimit.Max = DefaultRateLimitMax
	}
	if out.RateLimit.Window == 0 {
		out.RateLimit.Window = DefaultRateLimitWindow
	}
	b := &out.Breaker
	if b.ErrorThresholdPct == 0 {
		b.ErrorThresholdPct = DefaultErrorThresholdPct
	}
	if b.ResetTimeout == 0 {
		b.ResetTimeout = DefaultResetTimeout
	}
	if b.VolumeThreshold == 0 {
		b.VolumeThreshold = DefaultVolumeThreshold
	}
	if b.RollingWindow == 0 {
		b.RollingWindow = DefaultRollingWindow
	}
	h := &out.Health
	if h.Interval == 0 {
		h.Interval = DefaultHealthInterval
	}
	if h.CacheTTL == 0 {
		h.CacheTTL = DefaultHealthCacheTTL
	}
	if h.FailureThreshold == 0 {
		h.FailureThreshold = DefaultFailureThreshold
	}
	if h.ErrorRateThreshold == 0 {
		h.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if h.SlowThreshold == 0 {
		h.SlowThreshold = DefaultSlowThreshold
	}
	out.Auth = out.Auth.withDefaults()
	if s := out.Stream; s != nil {
		if s.ReconnectBase == 0 {
			s.ReconnectBase = DefaultReconnectBase
		}
		if s.ReconnectCap == 0 {
			s.ReconnectCap = DefaultReconnectCap
		}
		if s.MaxAttempts == 0 {
			s.MaxAttempts = DefaultReconnectAttempts
		}
		if s.PingInterval == 0 {
			s.PingInterval = DefaultPingInterval
		}
		if s.Auth != nil {
			a := s.Auth.withDefaults()
			s.Auth = &a
		}
	}
	return out
}

func (a AuthConfig) withDefaults() AuthConfig {
	if a.Type == "" {
		a.Type = AuthNone
	}
	if a.Type == AuthAPIKey && a.Header == "" {
		a.Header = DefaultAPIKeyHeader
	}
	if a.Type == AuthSignedToken {
		if a.TokenTTL == 0 {
			a.TokenTTL = DefaultTokenTTL
		}
		if a.Issuer == "" {
			a.Issuer = DefaultTokenIssuer
		}
	}
	return a
}

// Clone returns a deep copy so a registered Config cannot be mutated by its caller.
func (c Config) Clone() Config {
	out := c
	out.Headers = maps.Clone(c.Headers)
	out.Auth.Headers = maps.Clone(c.Auth.Headers)
	if c.Stream != nil {
		s := *c.Stream
		s.Subscribe = maps.Clone(c.Stream.Subscribe)
		if c.Stream.Auth != nil {
			a := *c.Stream.Auth
			a.Headers = maps.Clone(c.Stream.Auth.Headers)
			s.Auth = &a
		}
		out.Stream = &s
	}
	return out
}

// Validate reports the first problem with c as a *ConfigError.
func (c Config) Validate() error {
	if c.Name == "" {
		return NewConfigError("", "name", "cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return NewConfigError(c.Name, "baseURL", "must be an absolute http(s) URL")
	}
	if c.RateLimit.Max <= 0 {
		return NewConfigError(c.Name, "rateLimit.max", "must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return NewConfigError(c.Name, "rateLimit.window", "must be positive")
	}
	if c.Timeout <= 0 {
		return NewConfigError(c.Name, "timeout", "must be positive")
	}
	if c.Retries < NoRetry {
		return NewConfigError(c.Name, "retries", "must not be negative (use NoRetry)")
	}
	if c.RetryDelay < 0 {
		return NewConfigError(c.Name, "retryDelay", "must not be negative")
	}
	if p := c.Breaker.ErrorThresholdPct; p <= 0 || p > 100 {
		return NewConfigError(c.Name, "breaker.errorThresholdPct", "must be in (0, 100]")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return NewConfigError(c.Name, "breaker.resetTimeout", "must be positive")
	}
	if r := c.Health.ErrorRateThreshold; r != AnyFailure && (r <= 0 || r > 1) {
		return NewConfigError(c.Name, "health.errorRateThreshold", "must be in (0, 1] or AnyFailure")
	}
	if !c.Health.Disabled && c.Health.Interval < MinHealthInterval {
		return NewConfigError(c.Name, "health.interval", "must be at least 1s")
	}
	if err := c.Auth.Validate(c.Name); err != nil {
		return err
	}
	if s := c.Stream; s != nil {
		su, err := url.Parse(s.URL)
		if err != nil || su.Host == "" || (su.Scheme != "ws" && su.Scheme != "wss") {
			return NewConfigError(c.Name, "stream.url", "must be an absolute ws(s) URL")
		}
		if s.MaxAttempts < 0 {
			return NewConfigError(c.Name, "stream.maxAttempts", "must not be negative")
		}
		if s.Auth != nil {
			if err := s.Auth.Validate(c.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
