package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Seann-Moser/availsync"
	"github.com/Seann-Moser/availsync/api"
	"github.com/Seann-Moser/availsync/config"
	"github.com/Seann-Moser/availsync/timeslot"
	"github.com/Seann-Moser/availsync/webhook"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "availsync",
		Usage: "Mirror remote calendar availability and answer booking-time queries.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file.", EnvVars: []string{"AVAILSYNC_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error."},
			&cli.StringFlag{Name: "log-format", Usage: "text or json."},
		},
		Commands: []*cli.Command{
			serveCommand(),
			syncCommand(),
			signWebhookCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers CLI flags over the file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("storage") {
		cfg.Storage.Driver = c.String("storage")
	}
	if c.IsSet("dsn") {
		cfg.Storage.DSN = c.String("dsn")
	}
	return cfg, nil
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage", Usage: "Storage driver: memory, mongo or sqlite."},
		&cli.StringFlag{Name: "dsn", Usage: "Mongo URI or sqlite path."},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and webhook endpoint.",
		Flags: append(storageFlags(),
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address."},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := availsync.Open(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start service: %w", err)
			}

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           api.NewHandler(svc, svc.WebhookHandler(), logger.With("component", "api")),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening.", "addr", cfg.Listen, "storage", cfg.Storage.Driver)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info("Shutting down.")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout)
			defer cancel()
			if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
				logger.Error("HTTP shutdown failed", "error", sErr)
			}
			if cErr := closeSvc(shutdownCtx); cErr != nil {
				logger.Error("Closing service failed", "error", cErr)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize one account's weekly schedule now.",
		Flags: append(storageFlags(),
			&cli.StringFlag{Name: "account", Usage: "Local account id.", Required: true},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, cancel := context.WithTimeout(c.Context, cfg.SyncTimeout)
			defer cancel()

			svc, closeSvc, err := availsync.Open(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start service: %w", err)
			}
			defer func() {
				_ = closeSvc(context.Background())
			}()

			ws, err := svc.SyncNow(ctx, c.String("account"))
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			for _, d := range timeslot.Weekdays {
				var parts []string
				for _, iv := range ws.Intervals(d) {
					parts = append(parts, iv.String())
				}
				fmt.Printf("%-9s %s\n", d, strings.Join(parts, ", "))
			}
			return nil
		},
	}
}

func signWebhookCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-webhook",
		Usage: "Print a signature header for a payload, for testing the webhook endpoint by hand.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "body", Usage: "Raw request body.", Required: true},
			&cli.StringFlag{Name: "key", Usage: "Signing key.", EnvVars: []string{"AVAILSYNC_WEBHOOK_SIGNING_KEY"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			fmt.Println(webhook.Sign(c.String("key"), time.Now(), []byte(c.String("body"))))
			return nil
		},
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var logger *slog.Logger
	if format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)
	return logger
}
