package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/alert"
	"github.com/t77yq/port-monitor/internal/check"
	"github.com/t77yq/port-monitor/internal/config"
	"github.com/t77yq/port-monitor/internal/events"
	"github.com/t77yq/port-monitor/internal/httpapi"
	"github.com/t77yq/port-monitor/internal/logging"
	"github.com/t77yq/port-monitor/internal/monitor"
	"github.com/t77yq/port-monitor/internal/probe"
	"github.com/t77yq/port-monitor/internal/remote"
	"github.com/t77yq/port-monitor/internal/scheduler"
	"github.com/t77yq/port-monitor/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		FileName:   cfg.App.Name + ".log",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()

	// Result publishing is optional; the check log is the source of truth.
	var publisher events.ResultPublisher
	var results *events.Publisher
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()

		js, err := nc.JetStream(nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			logger.Warn("Check result not stored in stream",
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}))
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		p := events.NewPublisher(js, logger, cfg.NATS.StreamMaxAge)
		if err := p.EnsureStream(); err != nil {
			logger.Fatal("Failed to create result stream", zap.Error(err))
		}
		publisher, results = p, p
	}

	retry := probe.NewRetryController(probe.NewTCPProber(), logger,
		probe.WithStrategy(&probe.ExponentialBackoff{
			InitialDelay: cfg.Probe.BackoffBase,
			MaxDelay:     cfg.Probe.BackoffCap,
			Multiplier:   2,
		}),
		probe.WithMaxRetries(cfg.Probe.MaxRetries),
		probe.WithTimeout(cfg.Probe.Timeout),
	)

	sshOpts := []remote.Option{remote.WithTimeout(cfg.SSH.Timeout)}
	if cfg.SSH.KnownHostsFile != "" {
		callback, err := remote.KnownHostsCallback(cfg.SSH.KnownHostsFile)
		if err != nil {
			logger.Fatal("Failed to load known hosts", zap.Error(err))
		}
		sshOpts = append(sshOpts, remote.WithHostKeyCallback(callback))
	}
	executor := remote.NewSSHExecutor(logger, sshOpts...)

	// stats depends on the scheduler, which depends on the alert dispatcher
	var stats *monitor.StatsCollector
	alerts := alert.NewDispatcher(store, logger,
		alert.WithNotifier(alert.NewWebhookNotifier(cfg.Webhook.Timeout)),
		alert.WithObserver(func(err error) { stats.RecordDelivery(err) }),
	)

	engine := scheduler.NewScheduler(scheduler.Deps{
		Tasks:   store,
		Log:     events.NewRecordingSink(store, publisher, logger),
		Checker: check.NewDispatcher(retry, executor, logger),
		Alerts:  alerts,
	}, logger)
	stats = monitor.NewStatsCollector(engine, cfg.Stats.Interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start()
	if _, err := engine.Restore(ctx); err != nil {
		logger.Error("Failed to restore running tasks", zap.Error(err))
	}

	stats.Start(ctx)
	go runRetention(ctx, store, cfg.Database, logger)

	api := httpapi.NewServer(logger, store, engine, alerts, stats)
	api.AllowedOrigins = allowedOrigins(cfg.HTTP.AllowedOrigins)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached, some checks may not have completed", zap.Error(err))
	}
	stats.Stop()
	cancel()
	if results != nil {
		if err := results.Wait(shutdownCtx); err != nil {
			logger.Warn("Some check results were not acknowledged", zap.Error(err))
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}

	logger.Info("Server shut down gracefully")
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error", zap.String("subject", subject), zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	const maxAttempts = 5
	for i := 0; i < maxAttempts; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

// runRetention deletes check logs older than the configured retention
func runRetention(ctx context.Context, store *storage.SQLiteStore, cfg config.DatabaseConfig, logger *zap.Logger) {
	if cfg.Retention <= 0 || cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.DeleteLogsBefore(ctx, time.Now().Add(-cfg.Retention)); err != nil {
				logger.Error("Failed to clean up old check logs", zap.Error(err))
			}
		}
	}
}

// allowedOrigins maps the wildcard default onto the allow-all CORS policy
func allowedOrigins(origins []string) []string {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}
