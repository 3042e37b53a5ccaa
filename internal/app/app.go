package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicfront/internal/cart"
	"clinicfront/internal/catalog"
	"clinicfront/internal/config"
	"clinicfront/internal/httpserver"
	"clinicfront/internal/notifier"
	"clinicfront/internal/upstream"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

func Run() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env).With("service", "clinicfront")
	log.Info("starting gateway")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := upstream.NewClient(upstream.Opts{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
		Log:     log,
	})
	if err != nil {
		log.Error("upstream client init failed, exiting", "err", err)
		os.Exit(1)
	}

	catalogStore := catalog.NewStore(catalog.Opts{
		Fetcher:       api,
		ListTTL:       cfg.Catalog.ListTTL,
		CategoriesTTL: cfg.Catalog.CategoriesTTL,
		Log:           log,
	})
	carts := cart.NewManager(api, log)

	activity := notifier.NewActivity(2 * cfg.Notifications.PollInterval)
	poller := notifier.New(notifier.Opts{
		Source:   api,
		Token:    cfg.Upstream.AdminToken,
		Interval: cfg.Notifications.PollInterval,
		Visible:  activity.Active,
		Log:      log,
	})
	go func() {
		if err := poller.Run(rootCtx); err != nil {
			log.Error("notification poller stopped with error", "err", err)
		}
	}()

	// best-effort catalog warmup; failures are swallowed by the store
	go catalogStore.Preload(rootCtx)

	srv := httpserver.NewHttpServer(httpserver.Opts{
		Addr:     cfg.HttpServer.Address,
		Log:      log,
		Catalog:  catalogStore,
		Carts:    carts,
		Lab:      api,
		Poller:   poller,
		Activity: activity,
	})
	if err := srv.Start(); err != nil {
		log.Error("server start failed", "err", err)
		os.Exit(1)
	}

	log.Info("ready; waiting for shutdown signal", "addr", cfg.HttpServer.Address)
	<-rootCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "err", err)
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
