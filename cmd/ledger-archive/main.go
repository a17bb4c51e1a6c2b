// Command ledger-archive copies ledger entries written since the last
// completed archive run to S3 and exits. It suits a cron job when the
// server's own archiver is disabled.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/famhabit/internal/archive"
	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/logging"
	"github.com/dukerupert/famhabit/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("ledger archive failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	a := archive.New(cfg.S3, store.NewLedgerStore(db), store.NewArchiveStore(db), logger)
	runs, err := a.Run(ctx)
	if errors.Is(err, archive.ErrDisabled) {
		logger.Warn("no S3 bucket configured; nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	var entries int
	for _, r := range runs {
		entries += r.Entries
	}
	logger.Info("ledger archive complete", "objects", len(runs), "entries", entries)
	return nil
}
