// mailbridge polls an IMAP mailbox, forwards each message to a
// Telegram chat, and records processed messages in a SQLite ledger so
// nothing is delivered twice across restarts.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nhle/mailbridge/internal/config"
	"github.com/nhle/mailbridge/internal/extract"
	"github.com/nhle/mailbridge/internal/ledger"
	"github.com/nhle/mailbridge/internal/mailbox"
	"github.com/nhle/mailbridge/internal/notify"
	"github.com/nhle/mailbridge/internal/scheduler"
	"github.com/nhle/mailbridge/internal/telegram"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}
	logger.Info("configuration validated",
		"imap_host", cfg.IMAPHost,
		"interval", cfg.CheckInterval(),
		"database", cfg.DatabasePath,
	)

	db, err := ledger.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		return 1
	}
	defer db.Close()

	bot := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID)

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	username, err := bot.TestConnection(ctx)
	if err != nil {
		logger.Error("telegram connection test failed", "error", err)
		return 1
	}
	logger.Info("telegram bot connected", "username", username)

	client := mailbox.NewClient(
		cfg.IMAPHost, cfg.IMAPPort,
		cfg.IMAPUser, cfg.IMAPPassword,
		cfg.IMAPFolder, logger,
	)
	extractor := extract.New(logger)
	dispatcher := notify.NewDispatcher(bot, cfg.MaxBodyLength, logger)

	sched := scheduler.New(
		client, extractor, db, dispatcher,
		cfg.CheckInterval(), logger,
	)

	logger.Info("mailbridge started")
	sched.Run(ctx)

	logger.Info("mailbridge stopped")
	return 0
}

// parseLogLevel maps a config string to a slog level, defaulting to
// info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
