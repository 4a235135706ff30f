package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"silentfeed/internal/api"
	"silentfeed/internal/bot"
	"silentfeed/internal/config"
	"silentfeed/internal/dwell"
	"silentfeed/internal/fetcher"
	"silentfeed/internal/quality"
	"silentfeed/internal/registry"
	"silentfeed/internal/scheduler"
	"silentfeed/internal/storage"
	"silentfeed/internal/txn"
)

const httpTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	coord := txn.NewCoordinator(store, txn.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}, log)
	f := fetcher.New(fetcher.NewHTTPClient(httpTimeout))
	reg := registry.New(registry.Deps{
		Store:    store,
		Txn:      coord,
		Fetcher:  f,
		Analyzer: quality.NewAnalyzer(f, cfg.QualityFreshness, time.Now),
		Log:      log,
	}, registry.Options{
		RecommendThreshold: cfg.RecommendThreshold,
		BatchSize:          cfg.BatchSize,
	})
	visits := dwell.NewTracker(time.Now)

	sched := scheduler.New(reg, visits, scheduler.Options{
		RefreshInterval: cfg.RefreshInterval,
		AnalyzeBatch:    cfg.AnalyzeBatch,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	log.Info("starting silentfeed", "database", cfg.DatabasePath)

	run(func() { sched.Run(ctx) })

	if cfg.HTTPAddr != "" {
		srv := api.New(reg, visits, cfg.AnalyzeBatch, log)
		run(func() {
			if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
				log.Error("http server", "error", err)
				cancel()
			}
		})
	} else {
		log.Info("http api disabled")
	}

	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, reg, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			cancel()
		} else {
			run(func() { b.Run(ctx) })
		}
	} else {
		log.Info("telegram bot disabled")
	}

	<-ctx.Done()
	wg.Wait()
	log.Info("silentfeed stopped")
}
