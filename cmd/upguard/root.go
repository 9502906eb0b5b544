package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/prilive-com/upguard/config"
	"github.com/prilive-com/upguard/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	settings  config.Settings
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "upguard",
	Short: "Resilience and orchestration layer for third-party HTTP APIs",
	Long: `upguard fronts third-party APIs with per-upstream rate limits, circuit
breakers, retries and scheduled health probes, and keeps optional
WebSocket streams connected.

Upstreams are declared in a YAML file. Secrets are read from the
environment, optionally loaded from a .env file first.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "upstream file (default $UPGUARD_CONFIG or upguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")
}

func setup(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	s, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if cfgFile != "" {
		s.ConfigFile = cfgFile
	}
	if logLevel != "" {
		s.LogLevel = logLevel
		if err := s.Validate(); err != nil {
			return err
		}
	}
	settings = s

	level, err := config.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = s.LogFormat
	lc.File = s.LogFile
	lc.Output = cmd.ErrOrStderr()

	logger, logCloser, err = logging.New(lc)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}
