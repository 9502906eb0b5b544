// Package upguard is a client-side resilience layer for third-party HTTP and
// streaming APIs.
//
// Every registered upstream gets its own rate limit, circuit breaker, retry
// budget, health monitor and optional persistent stream. A failure in one
// upstream never affects another.
//
// # Quick Start
//
//	orch := upguard.New(
//	    upguard.WithLogger(logger),
//	    upguard.WithGlobalRateLimit(50, 10),
//	)
//	defer orch.Shutdown(context.Background())
//
//	err := orch.Register(upstream.Config{
//	    Name:    "taapi",
//	    BaseURL: "https://api.taapi.io",
//	    Auth:    upstream.AuthConfig{Type: upstream.AuthAPIKey, Key: upstream.Secret(key)},
//	    Health:  upstream.HealthConfig{Endpoint: "/health"},
//	})
//
//	resp, err := orch.Request(ctx, "taapi", http.MethodGet, "/rsi", url.Values{"symbol": {"BTC/USDT"}})
//	if upstream.CodeOf(err) == upstream.CodeCircuitOpen {
//	    // fall back to cached data
//	}
//
// # Events
//
// Health, circuit and stream lifecycle changes are published to observers:
//
//	cancel := orch.Subscribe(upstream.ObserverFunc(func(e upstream.Event) {
//	    if e.Kind == upstream.KindAPICritical {
//	        alert(e.API, e.Err)
//	    }
//	}))
//	defer cancel()
//
// # Packages
//
//   - upstream: configuration, errors, events and snapshots
//   - auth: per-request credentials (API key, bearer, signed ES256 tokens)
//   - executor: the per-upstream request pipeline
//   - health: scheduled probes and status classification
//   - stream: persistent websocket connections with bounded reconnect
//   - store: rate-limit counters and cached health, in memory or Redis
//   - config: environment settings, YAML upstream files and presets
package upguard
