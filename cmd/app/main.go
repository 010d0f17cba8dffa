package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/auditledger/internal/app"
	"github.com/atvirokodosprendimai/auditledger/internal/config"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "auditledger",
		Usage: "Schema-governed audit event ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("LEDGER_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./auditledger.sqlite",
				Sources: cli.EnvVars("LEDGER_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("LEDGER_WEBHOOK_URL"),
				Usage:   "Outbox webhook target URL (push delivery of ledger envelopes)",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("LEDGER_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			secrets, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			cfg := app.Config{
				Addr:           c.String("addr"),
				DBPath:         c.String("db-path"),
				TokenSalt:      secrets.Secrets.TokenSalt,
				WebhookURL:     c.String("webhook-url"),
				WebhookSecret:  c.String("webhook-secret"),
				WebhookTimeout: secrets.Secrets.WebhookTimeout,
				OutboxInterval: secrets.Secrets.OutboxInterval,
				OutboxBatch:    secrets.Secrets.OutboxBatch,
			}

			server, closer, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.WithError(closeErr).Error("close resources")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Addr).Info("listening")
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.WithField("signal", sig.String()).Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
