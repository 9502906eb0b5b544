package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prilive-com/upguard"
	"github.com/prilive-com/upguard/config"
	"github.com/prilive-com/upguard/internal/telemetry"
	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

// loadUpstreams reads the upstream file and resolves secrets from the
// environment.
func loadUpstreams() ([]upstream.Config, error) {
	f, err := config.LoadFile(settings.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfgs, err := f.Resolve(config.EnvSource{})
	if err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%s declares no upstreams", settings.ConfigFile)
	}
	return cfgs, nil
}

// openStore dials Redis when configured and falls back to process memory.
func openStore(ctx context.Context) (store.Store, error) {
	if settings.RedisURL == "" {
		return store.NewMemory(upstream.SystemClock{}), nil
	}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := store.DialRedis(dctx, settings.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis store")
	return s, nil
}

// buildOrchestrator creates an orchestrator with every upstream in cfgs
// registered. reg may be nil to skip metrics.
func buildOrchestrator(st store.Store, reg prometheus.Registerer, cfgs []upstream.Config, opts ...upguard.Option) (*upguard.Orchestrator, error) {
	base := []upguard.Option{
		upguard.WithLogger(logger),
		upguard.WithStore(st),
	}
	if reg != nil {
		base = append(base, upguard.WithRecorder(telemetry.NewCollector(reg)))
	}
	if settings.GlobalRPS > 0 {
		base = append(base, upguard.WithGlobalRateLimit(settings.GlobalRPS, settings.GlobalBurst))
	}

	orch := upguard.New(append(base, opts...)...)
	for _, cfg := range cfgs {
		if err := orch.Register(cfg); err != nil {
			_ = orch.Shutdown(context.Background())
			return nil, err
		}
	}
	return orch, nil
}

// logEvents writes every event except stream frames to the logger.
func logEvents(e upstream.Event) {
	if e.Kind == upstream.KindStreamMessage {
		return
	}
	attrs := []any{"id", e.ID, "kind", e.Kind, "upstream", e.API}
	switch e.Kind {
	case upstream.KindHealthUpdate, upstream.KindAPICritical:
		attrs = append(attrs, "health", e.Health, "consecutive_failures", e.ConsecutiveFailures)
	case upstream.KindHighErrorRate:
		attrs = append(attrs, "error_rate", e.ErrorRate)
	case upstream.KindSlowResponse:
		attrs = append(attrs, "latency", e.Latency)
	case upstream.KindCircuitOpen, upstream.KindCircuitHalfOpen, upstream.KindCircuitClosed:
		attrs = append(attrs, "from", e.From, "to", e.To)
	case upstream.KindStreamDisconnected, upstream.KindStreamFailed:
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}

	switch e.Kind {
	case upstream.KindAPICritical, upstream.KindStreamFailed, upstream.KindGlobalError, upstream.KindCircuitOpen:
		logger.Error("event", attrs...)
	case upstream.KindHighErrorRate, upstream.KindSlowResponse, upstream.KindStreamDisconnected:
		logger.Warn("event", attrs...)
	default:
		logger.Info("event", attrs...)
	}
}
