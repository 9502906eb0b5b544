package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prilive-com/upguard/upstream"
)

// SecretSource resolves secret names to values.
type SecretSource interface {
	Lookup(name string) (string, bool)
}

// EnvSource reads secrets from the process environment.
type EnvSource struct{}

// Lookup implements SecretSource.
func (EnvSource) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

// MapSource serves secrets from a map (useful for testing).
type MapSource map[string]string

// Lookup implements SecretSource.
func (m MapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// File is the YAML upstream definition file.
type File struct {
	Upstreams []UpstreamSpec `yaml:"upstreams"`
}

// UpstreamSpec is one upstream entry. With Preset set, every other field
// overrides the preset value it names.
type UpstreamSpec struct {
	Name       string            `yaml:"name"`
	Preset     string            `yaml:"preset"`
	BaseURL    string            `yaml:"baseURL"`
	Headers    map[string]string `yaml:"headers"`
	Auth       *AuthSpec         `yaml:"auth"`
	RateLimit  *RateLimitSpec    `yaml:"rateLimit"`
	Timeout    Duration          `yaml:"timeout"`
	Retries    *int              `yaml:"retries"`
	RetryDelay Duration          `yaml:"retryDelay"`
	Breaker    *BreakerSpec      `yaml:"breaker"`
	Health     *HealthSpec       `yaml:"health"`
	Stream     *StreamSpec       `yaml:"stream"`
}

// AuthSpec describes credentials by reference.
type AuthSpec struct {
	Type      string            `yaml:"type"`
	Header    string            `yaml:"header"`
	KeyID     string            `yaml:"keyID"`
	Issuer    string            `yaml:"issuer"`
	TokenTTL  Duration          `yaml:"tokenTTL"`
	Headers   map[string]string `yaml:"headers"`
	SecretEnv `yaml:",inline"`
}

type RateLimitSpec struct {
	Max    int      `yaml:"max"`
	Window Duration `yaml:"window"`
}

type BreakerSpec struct {
	ErrorThresholdPct float64  `yaml:"errorThresholdPct"`
	ResetTimeout      Duration `yaml:"resetTimeout"`
	VolumeThreshold   uint32   `yaml:"volumeThreshold"`
	RollingWindow     Duration `yaml:"rollingWindow"`
	CountClientErrors *bool    `yaml:"countClientErrors"`
}

type HealthSpec struct {
	Disabled           *bool    `yaml:"disabled"`
	Endpoint           string   `yaml:"endpoint"`
	Interval           Duration `yaml:"interval"`
	CacheTTL           Duration `yaml:"cacheTTL"`
	FailureThreshold   int      `yaml:"failureThreshold"`
	ErrorRateThreshold *float64 `yaml:"errorRateThreshold"`
	SlowThreshold      Duration `yaml:"slowThreshold"`
	GateRequests       *bool    `yaml:"gateRequests"`
}

type StreamSpec struct {
	Disabled      bool           `yaml:"disabled"`
	URL           string         `yaml:"url"`
	Auth          *AuthSpec      `yaml:"auth"`
	Subscribe     map[string]any `yaml:"subscribe"`
	TokenField    string         `yaml:"tokenField"`
	ReconnectBase Duration       `yaml:"reconnectBase"`
	ReconnectCap  Duration       `yaml:"reconnectCap"`
	MaxAttempts   int            `yaml:"maxAttempts"`
	PingInterval  Duration       `yaml:"pingInterval"`
}

// LoadFile reads and parses the YAML file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream file %q: %w", path, err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream file %q: %w", path, err)
	}
	return f, nil
}

// ParseFile decodes YAML. Unknown fields are errors.
func ParseFile(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, err
	}
	return &f, nil
}

// Resolve expands presets, resolves secrets through src and validates every
// entry. Any problem is returned as a *upstream.ConfigError.
func (f *File) Resolve(src SecretSource) ([]upstream.Config, error) {
	if src == nil {
		src = EnvSource{}
	}
	seen := make(map[string]bool, len(f.Upstreams))
	out := make([]upstream.Config, 0, len(f.Upstreams))

	for i, spec := range f.Upstreams {
		cfg, err := spec.resolve(src)
		if err != nil {
			return nil, err
		}
		if cfg.Name == "" {
			return nil, upstream.NewConfigError("", fmt.Sprintf("upstreams[%d].name", i), "cannot be empty")
		}
		if seen[cfg.Name] {
			return nil, upstream.NewConfigError(cfg.Name, "name", "duplicate upstream")
		}
		seen[cfg.Name] = true

		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s UpstreamSpec) resolve(src SecretSource) (upstream.Config, error) {
	var (
		cfg upstream.Config
		env SecretEnv
	)
	if s.Preset != "" {
		p, ok := LookupPreset(s.Preset)
		if !ok {
			return cfg, upstream.NewConfigError(s.Name, "preset", fmt.Sprintf("unknown preset %q", s.Preset))
		}
		cfg, env = p.Config, p.Env
	}
	if s.Name != "" {
		cfg.Name = s.Name
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if len(s.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(s.Headers))
		}
		maps.Copy(cfg.Headers, s.Headers)
	}
	if s.Timeout != 0 {
		cfg.Timeout = s.Timeout.Std()
	}
	if s.Retries != nil {
		cfg.Retries = *s.Retries
		if cfg.Retries == 0 {
			cfg.Retries = upstream.NoRetry
		}
	}
	if s.RetryDelay != 0 {
		cfg.RetryDelay = s.RetryDelay.Std()
	}
	if r := s.RateLimit; r != nil {
		if r.Max != 0 {
			cfg.RateLimit.Max = r.Max
		}
		if r.Window != 0 {
			cfg.RateLimit.Window = r.Window.Std()
		}
	}
	if b := s.Breaker; b != nil {
		applyBreaker(&cfg.Breaker, b)
	}
	if h := s.Health; h != nil {
		applyHealth(&cfg.Health, h)
	}

	if s.Auth != nil {
		env = s.Auth.SecretEnv.over(env)
		s.Auth.apply(&cfg.Auth)
	}
	if err := resolveSecrets(cfg.Name, "auth", &cfg.Auth, env, src); err != nil {
		return cfg, err
	}

	if st := s.Stream; st != nil {
		if st.Disabled {
			cfg.Stream = nil
		} else if err := applyStream(&cfg, st, src); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (a *AuthSpec) apply(dst *upstream.AuthConfig) {
	if a.Type != "" && upstream.AuthType(a.Type) != dst.Type {
		*dst = upstream.AuthConfig{Type: upstream.AuthType(a.Type), Headers: dst.Headers}
	}
	if a.Header != "" {
		dst.Header = a.Header
	}
	if a.KeyID != "" {
		dst.KeyID = a.KeyID
	}
	if a.Issuer != "" {
		dst.Issuer = a.Issuer
	}
	if a.TokenTTL != 0 {
		dst.TokenTTL = a.TokenTTL.Std()
	}
	if len(a.Headers) > 0 {
		if dst.Headers == nil {
			dst.Headers = make(map[string]string, len(a.Headers))
		}
		maps.Copy(dst.Headers, a.Headers)
	}
}

// over returns e with blank names filled from base.
func (e SecretEnv) over(base SecretEnv) SecretEnv {
	if e.Key == "" {
		e.Key = base.Key
	}
	if e.Token == "" {
		e.Token = base.Token
	}
	if e.KeyID == "" {
		e.KeyID = base.KeyID
	}
	if e.PrivateKey == "" {
		e.PrivateKey = base.PrivateKey
	}
	return e
}

// resolveSecrets fills the secrets a strategy needs. Names the strategy does
// not use are ignored.
func resolveSecrets(api, prefix string, a *upstream.AuthConfig, env SecretEnv, src SecretSource) error {
	lookup := func(field, name string) (string, error) {
		if name == "" {
			return "", nil
		}
		v, ok := src.Lookup(name)
		if !ok || v == "" {
			return "", upstream.NewConfigError(api, prefix+"."+field, fmt.Sprintf("environment variable %s is not set", name))
		}
		return v, nil
	}

	switch a.Type {
	case upstream.AuthAPIKey:
		v, err := lookup("keyEnv", env.Key)
		if err != nil {
			return err
		}
		if v != "" {
			a.Key = upstream.Secret(v)
		}
	case upstream.AuthBearer:
		v, err := lookup("tokenEnv", env.Token)
		if err != nil {
			return err
		}
		if v != "" {
			a.Token = upstream.Secret(v)
		}
	case upstream.AuthSignedToken:
		id, err := lookup("keyIDEnv", env.KeyID)
		if err != nil {
			return err
		}
		if id != "" {
			a.KeyID = id
		}
		pk, err := lookup("privateKeyEnv", env.PrivateKey)
		if err != nil {
			return err
		}
		if pk != "" {
			a.PrivateKey = upstream.Secret(pk)
		}
	}
	return nil
}

func applyBreaker(dst *upstream.BreakerConfig, b *BreakerSpec) {
	if b.ErrorThresholdPct != 0 {
		dst.ErrorThresholdPct = b.ErrorThresholdPct
	}
	if b.ResetTimeout != 0 {
		dst.ResetTimeout = b.ResetTimeout.Std()
	}
	if b.VolumeThreshold != 0 {
		dst.VolumeThreshold = b.VolumeThreshold
	}
	if b.RollingWindow != 0 {
		dst.RollingWindow = b.RollingWindow.Std()
	}
	if b.CountClientErrors != nil {
		dst.CountClientErrors = *b.CountClientErrors
	}
}

func applyHealth(dst *upstream.HealthConfig, h *HealthSpec) {
	if h.Disabled != nil {
		dst.Disabled = *h.Disabled
	}
	if h.Endpoint != "" {
		dst.Endpoint = h.Endpoint
	}
	if h.Interval != 0 {
		dst.Interval = h.Interval.Std()
	}
	if h.CacheTTL != 0 {
		dst.CacheTTL = h.CacheTTL.Std()
	}
	if h.FailureThreshold != 0 {
		dst.FailureThreshold = h.FailureThreshold
	}
	if h.ErrorRateThreshold != nil {
		dst.ErrorRateThreshold = *h.ErrorRateThreshold
		if dst.ErrorRateThreshold == 0 {
			dst.ErrorRateThreshold = upstream.AnyFailure
		}
	}
	if h.SlowThreshold != 0 {
		dst.SlowThreshold = h.SlowThreshold.Std()
	}
	if h.GateRequests != nil {
		dst.GateRequests = *h.GateRequests
	}
}

func applyStream(cfg *upstream.Config, st *StreamSpec, src SecretSource) error {
	if cfg.Stream == nil {
		cfg.Stream = &upstream.StreamConfig{}
	}
	s := cfg.Stream
	if st.URL != "" {
		s.URL = st.URL
	}
	if st.Subscribe != nil {
		s.Subscribe = maps.Clone(st.Subscribe)
	}
	if st.TokenField != "" {
		s.TokenField = st.TokenField
	}
	if st.ReconnectBase != 0 {
		s.ReconnectBase = st.ReconnectBase.Std()
	}
	if st.ReconnectCap != 0 {
		s.ReconnectCap = st.ReconnectCap.Std()
	}
	if st.MaxAttempts != 0 {
		s.MaxAttempts = st.MaxAttempts
	}
	if st.PingInterval != 0 {
		s.PingInterval = st.PingInterval.Std()
	}
	if st.Auth != nil {
		a := upstream.AuthConfig{}
		if s.Auth != nil {
			a = *s.Auth
		}
		st.Auth.apply(&a)
		if err := resolveSecrets(cfg.Name, "stream.auth", &a, st.Auth.SecretEnv, src); err != nil {
			return err
		}
		s.Auth = &a
	}
	return nil
}
