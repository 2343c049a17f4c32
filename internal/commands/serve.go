package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/thistle/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, zapLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = zapLogger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return app.New(cfg, logger).Run(ctx)
	},
}
