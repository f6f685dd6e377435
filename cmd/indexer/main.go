package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/filings-assistant/internal/adapters/cli"
	"github.com/kirillkom/filings-assistant/internal/bootstrap"
	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("indexer", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.Deps{
		Open: func(ctx context.Context) (cli.DocumentService, func(), error) {
			app, err := bootstrap.New(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return app.IndexUC, func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				app.Close(closeCtx)
			}, nil
		},
		Setup: func(ctx context.Context) error {
			return bootstrap.SetupSchema(ctx, cfg)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
