package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/prilive-com/upguard"
	"github.com/prilive-com/upguard/internal/admin"
	"github.com/prilive-com/upguard/upstream"
)

var runFlags struct {
	adminAddr       string
	shutdownTimeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register upstreams, monitor them and serve the admin API",
	Long: `Run registers every upstream from the config file, starts health
monitoring and streams, and serves /status, /healthz and /metrics until
interrupted.`,
	RunE: runOrchestrator,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.adminAddr, "admin-addr", "", "admin listen address (default $UPGUARD_ADMIN_ADDR)")
	runCmd.Flags().DurationVar(&runFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	rootCmd.AddCommand(runCmd)
}

func runOrchestrator(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgs, err := loadUpstreams()
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch, err := buildOrchestrator(st, reg, cfgs, upguard.WithObserver(upstream.ObserverFunc(logEvents)))
	if err != nil {
		return err
	}

	addr := settings.AdminAddr
	if runFlags.adminAddr != "" {
		addr = runFlags.adminAddr
	}
	var adminOpts []admin.Option
	if len(settings.CORSOrigins) > 0 {
		adminOpts = append(adminOpts, admin.WithCORS(settings.CORSOrigins...))
	}
	srv := admin.NewServer(addr, admin.NewRouter(orch, reg, logger, adminOpts...), logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	logger.Info("upguard running", "upstreams", orch.Names(), "admin", addr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		if err != nil {
			logger.Error("admin server failed", "error", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), runFlags.shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		logger.Warn("admin shutdown", "error", serr)
	}
	if serr := orch.Shutdown(sctx); serr != nil && err == nil {
		err = serr
	}
	return err
}
