package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunegrab/tunegrab/internal/bot"
	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/logging"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "tunegrab",
		Short:   "Telegram bot that fetches music and video from links",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	log.Info("tunegrab starting",
		zap.String("version", version),
		zap.String("workRoot", cfg.Download.WorkRoot))

	if err := os.MkdirAll(cfg.Download.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("ensure work root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bot.New(cfg, log)
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.Info("tunegrab stopped")
	return nil
}
