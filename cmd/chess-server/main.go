package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/postal-chess/internal/config"
	"github.com/park285/postal-chess/internal/dispatch"
	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
	"github.com/park285/postal-chess/internal/rules"
	"github.com/park285/postal-chess/internal/scheduler"
	"github.com/park285/postal-chess/internal/server"
	"github.com/park285/postal-chess/internal/session"
	"github.com/park285/postal-chess/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}

	disp := dispatch.NewDispatcher(cfg.WSQueueSize)

	// The core's sink set includes the scheduler, which in turn needs the
	// core, so the fan-out slice is filled in after both exist. Everything
	// is wired before the first request can arrive.
	sinks := &game.Sinks{}
	core := session.New(st, rules.New(), sinks, cfg.MoveDeadline)

	warnSinks := game.Sinks{disp}
	if cfg.EventWebhookURL != "" {
		warnSinks = append(warnSinks, dispatch.NewWebhook(cfg.EventWebhookURL))
	}
	sched := scheduler.New(core, st, warnSinks, scheduler.Config{
		Warnings:  cfg.DeadlineWarnings,
		Reconcile: cfg.ReconcileInterval,
	})
	*sinks = append(*sinks, sched)
	*sinks = append(*sinks, warnSinks...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.Start(ctx); err != nil {
		cancel()
		log.Fatalf("scheduler init error: %v", err)
	}
	cancel()

	srv := server.New(cfg.ListenAddr, core, disp,
		server.WithAllowedOrigins(cfg.AllowedOrigins))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("server_started",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("move_deadline", cfg.MoveDeadline),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server_error", zap.Error(err))
		}
	}

	shctx, shcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shcancel()
	if err := srv.Shutdown(shctx); err != nil {
		logger.Warn("shutdown_error", zap.Error(err))
	}
	sched.Stop()
	if err := st.Close(); err != nil {
		logger.Warn("store_close_error", zap.Error(err))
	}
	logger.Info("server_stopped")
}

func openStore(cfg *appcfg.AppConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return store.NewPostgres(cfg.DatabaseURL)
	case "redis":
		return store.NewRedis(cfg.RedisURL)
	default:
		return store.NewMemory(), nil
	}
}
