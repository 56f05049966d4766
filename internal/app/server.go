package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/erg0nix/palaver/internal/admin"
	"github.com/erg0nix/palaver/internal/bot"
	"github.com/erg0nix/palaver/internal/config"
	"github.com/erg0nix/palaver/internal/logging"
	"github.com/erg0nix/palaver/internal/metrics"
)

const drainTimeout = 30 * time.Second

// RunServer connects to Telegram, serves admin and metrics endpoints, and
// polls for updates until SIGINT or SIGTERM.
func RunServer(cfg config.Config) error {
	logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.WarningFile)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	defer logCloser.Close()

	if cfg.Telegram.Token == "" {
		slog.Error("telegram token is not set, use telegram.token or BOT_TOKEN")
		return errors.New("server: telegram token is required")
	}
	if cfg.Telegram.DebugID == 0 {
		slog.Warn("debug user is not set, /debug is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m := metrics.New()

	services, err := NewServices(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	defer services.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("server: connect to telegram: %w", err)
	}

	pidFile := cfg.PIDFile()
	if err := WritePIDFile(pidFile); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}
	defer os.Remove(pidFile)

	adminServer := admin.NewServer()
	go func() {
		if err := adminServer.ListenAndServe(ctx, cfg.Admin.Bind); err != nil {
			slog.Error("admin server failed", "error", err)
		}
	}()

	if cfg.Metrics.Bind != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Bind); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	b := bot.New(api, services.Engine, bot.Config{
		DebugID:        cfg.Telegram.DebugID,
		WarningLogPath: cfg.Log.WarningFile,
	}, m)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = cfg.Telegram.PollTimeout
	updates := api.GetUpdatesChan(updateConfig)

	adminServer.SetServing(true)
	slog.Info("bot started", "username", api.Self.UserName, "history", cfg.History.Backend, "sessions", cfg.Sessions.Backend)

	if err := b.Run(ctx, updates); err != nil {
		slog.Error("bot stopped with error", "error", err)
	}

	slog.Info("received signal, shutting down")
	adminServer.SetServing(false)
	api.StopReceivingUpdates()

	if !b.Wait(drainTimeout) {
		slog.Warn("drain timeout, forcing shutdown")
	}

	return nil
}
