package crowdsaled

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tokensale/config"
	"tokensale/observability/logging"
	"tokensale/observability/metrics"
	telemetry "tokensale/observability/otel"
	"tokensale/storage"
)

// Main initialises and runs the crowdsale daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "crowdsaled.toml", "path to crowdsaled configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, config.ErrDefaultWritten) {
		return fmt.Errorf("wrote default configuration to %s; fill in the sale parameters and restart", cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("CROWDSALE_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger, logCloser := logging.SetupWithOptions("crowdsaled", env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "crowdsaled",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	sale, err := cfg.Sale.Parse()
	if err != nil {
		return fmt.Errorf("parse sale: %w", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	receiptsDB, err := OpenReceiptsDB(cfg.Receipts)
	if err != nil {
		return err
	}
	if sqlDB, err := receiptsDB.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}

	logger.Info("starting crowdsaled",
		slog.String("listen", cfg.ListenAddress),
		slog.String("data_dir", cfg.DataDir),
		slog.String("receipts_driver", cfg.Receipts.Driver),
		slog.String("receipts_dsn", logging.MaskDSN(cfg.Receipts.DSN)),
		logging.MaskField("bearer_token", cfg.Admin.BearerToken))

	srv, err := New(Config{
		Sale:        sale,
		BearerToken: cfg.Admin.BearerToken,
		RateLimit: RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		PauseOnStart:      cfg.Sale.PauseOnStart,
		Logger:            logger,
		Metrics:           metrics.Crowdsale(),
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	}, db, NewReceiptStore(receiptsDB))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           telemetry.Handler(srv.Handler(), "crowdsaled"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("crowdsaled listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
