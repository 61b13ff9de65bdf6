package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"investtrack/internal/amqp"
	"investtrack/internal/auth"
	"investtrack/internal/config"
	"investtrack/internal/core"
	"investtrack/internal/fx"
	apphttp "investtrack/internal/http"
	"investtrack/internal/ledger"
	applog "investtrack/internal/log"
	"investtrack/internal/store"
	"investtrack/internal/store/memory"
	"investtrack/internal/store/sqlite"
)

// logPublisher stands in for the AMQP client when no broker is configured.
// Audit events still leave a trace in the logs.
type logPublisher struct {
	logger *applog.Logger
}

func (p logPublisher) PublishAudit(ctx context.Context, entry core.AuditEntry) error {
	p.logger.InfoContext(ctx, "Audit event",
		"action", entry.Action,
		applog.FieldBalanceID, entry.BalanceID,
		applog.FieldUserID, entry.UserID)
	return nil
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentApp,
	})
	applog.SetDefault(logger)

	logger.Info("Starting investtrack")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var st store.Store
	switch cfg.DataBackend {
	case "sqlite":
		sqliteStore, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize sqlite store", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		st = sqliteStore
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	default:
		st = memory.New()
		logger.Info("Initialized memory backend")
	}
	defer st.Close()

	var publisher ledger.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("Audit events published to AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		publisher = logPublisher{logger: logger.WithComponent(applog.ComponentLedger)}
		logger.Info("AMQP disabled - audit events are logged only")
	}

	engine := ledger.NewEngine(st, st, publisher)
	resolver := fx.NewResolver(st)
	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.OTPTTL)

	srv := apphttp.NewServer(":"+cfg.Port, st, engine, resolver, authSvc, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
