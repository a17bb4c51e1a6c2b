package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/logging"
	"github.com/dukerupert/famhabit/internal/push"
	"github.com/dukerupert/famhabit/internal/server"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		printVAPIDKeys()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background jobs
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go srv.RateLimiter().Janitor(bgCtx, time.Hour)

	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(bgCtx)
		logger.Info("approval reminders enabled", "after", cfg.ReminderAfter)
	}
	if cfg.S3.Enabled() && cfg.ArchiveInterval > 0 {
		srv.Archiver().Start(bgCtx, cfg.ArchiveInterval)
		logger.Info("ledger archive enabled", "bucket", cfg.S3.Bucket, "interval", cfg.ArchiveInterval)
	}

	go func() {
		logger.Info("famhabit starting", "addr", httpServer.Addr, "env", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if sched := srv.PushScheduler(); sched != nil {
		sched.Stop()
	}
	srv.Archiver().Stop()
	bgCancel()
	srv.Dispatcher().Wait()
}

// printVAPIDKeys writes a fresh key pair in .env form for first-time setup.
func printVAPIDKeys() {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("FAMHABIT_VAPID_PUBLIC_KEY=%s\nFAMHABIT_VAPID_PRIVATE_KEY=%s\n", pub, priv)
}
