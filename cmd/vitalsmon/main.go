package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/afroash/vitals-monitor/internal/config"
	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/monitor"
	"github.com/afroash/vitals-monitor/internal/server"
	"github.com/afroash/vitals-monitor/internal/storage"
	"github.com/afroash/vitals-monitor/internal/vitals"
)

const version = "v0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vitalsmon",
		Short:         "Heart rate and SpO2 monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults apply when empty)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newSummaryCmd(&configPath))
	root.AddCommand(newCollectCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor engine and the HTTP reporting surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, cfg, logger)
		},
	}
}

func newSummaryCmd(configPath *string) *cobra.Command {
	var scope string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print an aggregate of stored readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			var since time.Time
			switch scope {
			case "day":
				since = storage.StartOfDay(time.Now())
			case "all":
			default:
				return fmt.Errorf("unknown scope %q (want day or all)", scope)
			}

			store, err := storage.NewSQLiteStore(cfg.Storage.Path, zerolog.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.Aggregate(cmd.Context(), since)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			_, err = fmt.Fprintln(out, report.String())
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "day", "aggregation scope: day or all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newCollectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run a local telemetry endpoint that acknowledges uplink traffic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCollector(ctx, cfg, logger)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// newLogger builds the root logger from the logging section
func newLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, &models.ConfigurationError{Field: "logging.level", Reason: err.Error()}
	}

	var logger zerolog.Logger
	if cfg.Format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func runMonitor(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	device := models.NewDeviceInfo(cfg.Device.ID, cfg.Device.Name, version)

	logger.Info().
		Str("version", version).
		Str("device_id", device.ID).
		Str("transport", cfg.Uplink.Transport).
		Msg("Starting Vitals Monitor")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return err
	}

	hw, err := newHardware(cfg, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer hw.Close()

	up, retry, err := newUplink(cfg, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer up.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := monitor.Deps{
		Source:  vitals.NewSimulatedSource(),
		Panel:   hw.panel,
		Store:   store,
		Uplink:  up,
		Metrics: monitor.NewMetrics(reg),
		Logger:  logger,
	}
	// Optional collaborators are only set when present so the interfaces stay nil
	if hw.button != nil {
		deps.Trigger = hw.button
	}
	if retry != nil {
		deps.Retry = retry
	}

	snap, err := newSnapshot(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return err
	}
	if snap != nil {
		defer snap.Close()
		deps.Snapshot = snap
	}

	engine, err := monitor.New(cfg.MonitorConfig(), deps)
	if err != nil {
		store.Close()
		return err
	}

	// Retention is opt-in; it stops before the engine closes the store
	cleanerCtx, cancelCleaner := context.WithCancel(context.Background())
	defer cancelCleaner()
	var cleaner *storage.RetentionCleaner
	cleanerDone := make(chan struct{})
	if cfg.Storage.RetentionDays > 0 {
		cleaner = storage.NewRetentionCleaner(store, cfg.RetentionConfig(), logger)
		go func() {
			defer close(cleanerDone)
			cleaner.Run(cleanerCtx)
		}()
	} else {
		close(cleanerDone)
	}

	// The engine runs on its own context so the HTTP surface can drain first
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	var httpServer *http.Server
	serverErr := make(chan error, 1)
	if cfg.ServerEnabled() {
		api := server.NewAPIHandler(store, engine, version, logger)
		httpServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      api.Routes(reg),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	engineExited := false
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed")
		runErr = err
	case err := <-engineDone:
		logger.Error().Err(err).Msg("Engine exited early")
		runErr = err
		engineExited = true
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}

	cancelCleaner()
	<-cleanerDone
	if cleaner != nil {
		stats := cleaner.Stats()
		logger.Info().
			Int64("readings_pruned", stats.ReadingsPruned).
			Int64("alerts_pruned", stats.AlertsPruned).
			Msg("Retention totals")
	}

	cancelEngine()
	if !engineExited {
		if err := <-engineDone; err != nil {
			logger.Error().Err(err).Msg("Engine shutdown error")
			if runErr == nil {
				runErr = err
			}
		}
	}

	state := engine.Snapshot()
	logger.Info().
		Int64("readings", state.ReadingCount).
		Int64("alerts", state.AlertCount).
		Dur("uptime", device.Uptime().Round(time.Second)).
		Msg("Vitals Monitor stopped")
	return runErr
}

func runCollector(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	inbox := server.NewInbox(cfg.Collector.BufferSize, 1000)
	collector := server.NewCollector(inbox, logger, cfg.Collector.AllowedOrigins...)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Collector.Host, cfg.Collector.Port),
		Handler:     collector.Routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Collector listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Collector shutdown error")
	}

	stats := inbox.Stats()
	logger.Info().
		Int64("messages", stats.TotalMessages).
		Int("devices", stats.UniqueDevices).
		Msg("Collector stopped")
	return nil
}
