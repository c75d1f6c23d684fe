package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/warometer/internal/config"
	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/logger"
	"github.com/rewired-gh/warometer/internal/monitor"
	"github.com/rewired-gh/warometer/internal/polymarket"
	"github.com/rewired-gh/warometer/internal/server"
	"github.com/rewired-gh/warometer/internal/storage"
	"github.com/rewired-gh/warometer/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitor (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, opts)
		},
	}
}

func newPolymarketClient(cfg *config.Config) *polymarket.Client {
	return polymarket.NewClient(cfg.Polymarket.GammaAPIURL, polymarket.ClientConfig{
		Timeout:             cfg.Polymarket.Timeout,
		MaxRetries:          cfg.Polymarket.MaxRetries,
		RetryDelayBase:      cfg.Polymarket.RetryDelayBase,
		MaxIdleConns:        cfg.Polymarket.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Polymarket.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Polymarket.IdleConnTimeout,
	})
}

func newTelegramClient(cfg *config.Config) *telegram.Client {
	return telegram.NewClient(telegram.Config{
		BotToken:       cfg.Telegram.BotToken,
		ChatID:         cfg.Telegram.ChatID,
		Timeout:        cfg.Telegram.Timeout,
		MaxRetries:     cfg.Telegram.MaxRetries,
		RetryDelayBase: cfg.Telegram.RetryDelayBase,
	})
}

func runMonitor(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded from %s", opts.configPath)

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// max_alerts may have shrunk since a file journal was last written
	if err := store.RotateAlerts(); err != nil {
		logger.Warn("Failed to rotate alert journal: %v", err)
	}
	if n, err := store.CountAlerts(); err == nil {
		logger.Info("Alert journal ready at %s (%d alerts retained)", cfg.Storage.DBPath, n)
	}

	polyClient := newPolymarketClient(cfg)
	defer polyClient.Close()

	telegramClient := newTelegramClient(cfg)

	det := detector.New(detector.Config{
		Threshold: cfg.Monitor.PriceChangeThreshold,
		Cooldown:  cfg.Monitor.AlertCooldown(),
	})

	mon := monitor.New(polyClient, det, telegramClient, store, monitor.Config{
		EventSlug:    cfg.Polymarket.EventSlug,
		PollInterval: cfg.Polymarket.PollInterval(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.CommandsEnabled {
		if !cfg.Telegram.Enabled() {
			logger.Warn("Telegram commands enabled but bot token or chat ID missing")
		} else if err := telegramClient.ListenForCommands(ctx, det); err != nil {
			logger.Warn("Failed to start Telegram command listener: %v", err)
		} else {
			logger.Info("Listening for Telegram commands")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server.Addr, det, store)
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start status server: %v", err)
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return mon.Run(gctx)
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}
