package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/appwarden/internal/admin"
	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/desktop"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/logind"
	"github.com/goodtune/appwarden/internal/metrics"
	"github.com/goodtune/appwarden/internal/monitor"
	"github.com/goodtune/appwarden/internal/policy"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/goodtune/appwarden/internal/storage/bolt"
	"github.com/goodtune/appwarden/internal/storage/redis"
	"github.com/goodtune/appwarden/internal/storage/sqlite"
	"github.com/goodtune/appwarden/internal/systemd"
	"github.com/goodtune/appwarden/internal/ticker"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the appwarden daemon",
	Long:  `Start the poll loop, session engine, countdown ticker, admin API and metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// eventLog is a foreground event source that also accepts pushed events.
type eventLog interface {
	foreground.EventSource
	foreground.Recorder
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting appwarden")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize foreground event log
	events, closeEvents, err := openEvents(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize event source: %w", err)
	}
	defer func() {
		if err := closeEvents(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event source")
		}
	}()

	resolver := foreground.NewResolver(events, foreground.Config{
		RecentWindow:   config.ParseDuration(cfg.Monitor.RecentWindow, foreground.DefaultRecentWindow),
		FallbackWindow: config.ParseDuration(cfg.Monitor.FallbackWindow, foreground.DefaultFallbackWindow),
	})

	logger.Info().Str("source", cfg.Events.Source).Msg("Foreground event source initialized")

	// Desktop integration: logind for interactivity, notifications for prompts
	var checker monitor.InteractivityChecker = monitor.AlwaysInteractive{}
	var session *logind.Monitor
	var notifier *desktop.Notifier
	if cfg.Desktop.Enabled {
		session, err = logind.New(cfg.Desktop.LogindSession, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to logind: %w", err)
		}
		defer func() {
			if err := session.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close logind connection")
			}
		}()
		checker = session
		logger.Info().Str("session", session.Session()).Msg("Logind monitor initialized")

		if cfg.Desktop.Notifications {
			notifier, err = desktop.New(desktop.Config{}, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to the notification service: %w", err)
			}
			defer func() {
				if err := notifier.Close(); err != nil {
					logger.Error().Err(err).Msg("Failed to close notification connection")
				}
			}()
			logger.Info().Msg("Desktop notifications initialized")
		}
	}

	// Initialize countdown ticker
	display := ticker.MultiDisplay{ticker.NewLogDisplay(logger)}
	var presenter usage.Presenter = usage.NewLogPresenter(logger)
	if notifier != nil {
		display = append(display, notifier)
		presenter = notifier
	}

	countdown := ticker.New(ticker.Config{
		Interval: config.ParseDuration(cfg.Ticker.Interval, ticker.DefaultInterval),
		Display:  display,
		Probe: ticker.NewDeviceProbe(
			checker,
			resolver,
			config.ParseDuration(cfg.Ticker.ProbeWindow, ticker.DefaultProbeWindow),
			clk,
		),
	}, logger)

	// Initialize Policy Engine
	policyEngine, err := policy.NewEngine(policy.Config{
		PolicyDir:       cfg.Policy.PolicyDir,
		ExemptApps:      cfg.Policy.ExemptApps,
		LauncherPattern: cfg.Policy.LauncherPattern,
		SelfAppID:       cfg.Policy.SelfAppID,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	logger.Info().
		Strs("modules", policyEngine.Modules()).
		Msg("Policy Engine initialized")

	// Initialize session engine
	engine, err := usage.NewEngine(usage.Config{
		Store:             store,
		Events:            events,
		Presenter:         presenter,
		Notifier:          countdown,
		Exemptor:          policyEngine,
		Clock:             clk,
		SnapshotTTL:       config.ParseDuration(cfg.Session.SnapshotTTL, usage.DefaultSnapshotTTL),
		SnapshotCacheSize: cfg.Session.SnapshotCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session engine: %w", err)
	}

	if notifier != nil {
		notifier.SetResponder(engine)
	}

	logger.Info().Msg("Session engine initialized")

	// Initialize Reset Scheduler
	resetScheduler, err := usage.NewResetScheduler(engine, cfg.Session.DailyResetTime, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Reset Scheduler: %w", err)
	}

	resetScheduler.Start(ctx)
	logger.Info().Msg("Reset Scheduler initialized")

	// Initialize poll loop and its watchdog
	poller := monitor.NewPoller(resolver, checker, engine, monitor.PollerConfig{
		Interval:          config.ParseDuration(cfg.Monitor.PollInterval, monitor.DefaultPollInterval),
		UsageSyncInterval: config.ParseDuration(cfg.Monitor.UsageSyncInterval, monitor.DefaultUsageSyncInterval),
		Clock:             clk,
	}, logger)
	countdown.SetKick(poller.Kick)
	if session != nil {
		session.SetOnChange(poller.Kick)
	}

	watchdogInterval := config.ParseDuration(cfg.Monitor.WatchdogInterval, monitor.DefaultWatchdogInterval)
	var watchdogNotify func() error
	if sd := systemd.WatchdogInterval(); sd > 0 {
		watchdogInterval = min(watchdogInterval, sd)
		watchdogNotify = systemd.NotifyWatchdog
		logger.Info().Dur("interval", watchdogInterval).Msg("Systemd watchdog enabled")
	}

	supervisor := monitor.NewSupervisor(poller, monitor.SupervisorConfig{
		Interval:         watchdogInterval,
		HeartbeatTimeout: config.ParseDuration(cfg.Monitor.HeartbeatTimeout, monitor.DefaultHeartbeatTimeout),
		Notify:           watchdogNotify,
		Clock:            clk,
	}, logger)
	supervisor.Start(ctx)

	logger.Info().
		Str("poll_interval", cfg.Monitor.PollInterval).
		Dur("watchdog_interval", watchdogInterval).
		Msg("Poll loop started")

	// Desktop signal listeners
	if session != nil {
		go func() {
			if err := session.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Logind watch stopped")
			}
		}()
	}
	if notifier != nil {
		go func() {
			if err := notifier.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Notification listener stopped")
			}
		}()
	}

	// Initialize Admin API
	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.AdminPort)
		adminServer = admin.NewServer(admin.Config{ListenAddr: adminAddr}, engine, events, policyEngine, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Admin != nil {
			adminServer.SetListener(sdListeners.Admin)
		}

		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("failed to start Admin API: %w", err)
		}

		logger.Info().
			Str("addr", adminAddr).
			Msg("Admin API started")
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}

		logger.Info().
			Str("addr", metricsAddr).
			Msg("Metrics Server started")
	}

	logger.Info().Msg("appwarden startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	if apps, err := engine.List(ctx); err == nil {
		status := fmt.Sprintf("Tracking %d apps (storage %s, events %s)", len(apps), cfg.Storage.Type, cfg.Events.Source)
		if err := systemd.NotifyStatus(status); err != nil {
			logger.Debug().Err(err).Msg("Failed to send systemd status")
		}
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, reloading policies...")
			if err := policyEngine.Reload(); err != nil {
				logger.Error().Err(err).Msg("Failed to reload policies")
			} else {
				logger.Info().Msg("Policies reloaded successfully")
			}
			// Continue running
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			// Break out of loop to shutdown
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop the pipeline before anything it writes to
	supervisor.Stop()
	countdown.Cancel()
	resetScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := engine.DismissPrompt(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear presenting prompt")
	}

	cancel()

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Admin API")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("appwarden stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt, redis or sqlite)", storageType)
	}
}

// openEvents builds the foreground event log and a func that releases it.
func openEvents(cfg *config.Config) (eventLog, func() error, error) {
	retention := config.ParseDuration(cfg.Events.Retention, foreground.DefaultRetention)

	switch cfg.Events.Source {
	case "", "memory":
		return foreground.NewMemorySource(retention), func() error { return nil }, nil
	case "redis":
		client, err := redis.NewClient(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return foreground.NewRedisSource(client, cfg.Events.RedisKey, retention), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported event source: %s", cfg.Events.Source)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
