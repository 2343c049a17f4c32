package commands

import (
	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/thistle/config"
	"github.com/Ramsey-B/thistle/internal/app"
	"github.com/Ramsey-B/thistle/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "thistle",
	Short:         "Integration credential broker",
	Long:          "thistle stores integration credentials in a vault, manages integrations and queues webhook-triggered AI jobs.",
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// bootstrap loads the configuration and builds the process logger.
// The returned zap logger must be synced before exit.
func bootstrap() (*config.Config, ectologger.Logger, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, zapLogger, err := logging.New(logging.Options{
		Level:          cfg.LogLevel,
		Pretty:         cfg.PrettyLogs,
		File:           cfg.LogFile,
		FileMaxSizeMB:  cfg.LogFileMaxSizeMB,
		FileMaxBackups: cfg.LogFileMaxBackups,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, zapLogger, nil
}
