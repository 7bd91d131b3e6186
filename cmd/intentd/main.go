// Package main is the entry point for the intentd binary.
// It runs the ingestion and insight server for behavioural telemetry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentlabs/intent-telemetry/pkg/archive"
	"github.com/intentlabs/intent-telemetry/pkg/config"
	"github.com/intentlabs/intent-telemetry/pkg/logging"
	"github.com/intentlabs/intent-telemetry/pkg/policy"
	"github.com/intentlabs/intent-telemetry/pkg/server"
	"github.com/intentlabs/intent-telemetry/pkg/telemetry"
)

const (
	defaultConfigPath = "intent.yaml"
	serviceName       = "intent-telemetry"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intentd",
		Short: "Ingestion and insight server for behavioural telemetry",
		Long: `intentd receives telemetry batches from client trackers, reconstructs
per-session timelines, and serves friction and intent insights over HTTP.

Example:
  intentd --config intent.yaml --listen :8080`,
		RunE: runServer,
	}

	rootCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "Listen address (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error, overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", serviceName, Version)
		},
	})

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}

	// The default config path is optional; an explicit one must exist.
	if configPath == defaultConfigPath {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			configPath = ""
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, "", err
		}
	}

	return cfg, configPath, nil
}

// buildGate constructs the admission gate from configuration, loading a
// custom Rego module when one is configured.
func buildGate(ctx context.Context, cfg config.PolicyConfig) (*policy.Gate, error) {
	opts := policy.GateOptions{
		Limits: policy.Limits{
			MaxBatchEvents: cfg.MaxBatchEvents,
			AllowedTypes:   cfg.AllowedTypes,
			RequireSession: cfg.RequireSession,
		},
	}
	if cfg.ModuleFile != "" {
		//nolint:gosec // Module path is controlled by the operator
		source, err := os.ReadFile(cfg.ModuleFile)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", cfg.ModuleFile, err)
		}
		opts.Module = string(source)
	}
	return policy.NewGate(ctx, opts)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("Starting intentd",
		"version", Version,
		"config", configPath,
		"listen", cfg.Server.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	gate, err := buildGate(ctx, cfg.Policy)
	if err != nil {
		return fmt.Errorf("build admission gate: %w", err)
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithGate(gate),
	}

	if cfg.Server.ArchivePath != "" {
		store, err := archive.Open(cfg.Server.ArchivePath)
		if err != nil {
			return fmt.Errorf("open event archive: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close archive", "error", err)
			}
		}()
		opts = append(opts, server.WithArchive(store))
		logger.Info("Event archive enabled", "path", cfg.Server.ArchivePath)
	}

	srv := server.New(server.Config{
		ListenAddr:         cfg.Server.ListenAddr,
		SessionIdleTimeout: cfg.Server.SessionIdleTimeout,
	}, opts...)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(path string) error {
			reloaded, err := config.Load(path)
			if err != nil {
				return err
			}
			newGate, err := buildGate(context.Background(), reloaded.Policy)
			if err != nil {
				return err
			}
			srv.SetGate(newGate)
			logger.Info("Admission policy reloaded",
				"max_batch_events", reloaded.Policy.MaxBatchEvents,
				"allowed_types", len(reloaded.Policy.AllowedTypes))
			return nil
		}, logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Error("Failed to stop config watcher", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}
