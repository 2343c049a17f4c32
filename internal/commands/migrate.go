package commands

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/thistle/internal/app"
)

var (
	migrateVersion uint
	migrateForce   int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, zapLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = zapLogger.Sync() }()

		if cmd.Flags().Changed("version") {
			cfg.DatabaseMigrationVersion = int(migrateVersion)
		}
		if cmd.Flags().Changed("force") {
			cfg.DatabaseMigrationForce = migrateForce
		}

		return app.Migrate(cmd.Context(), cfg, logger)
	},
}

func init() {
	migrateCmd.Flags().UintVar(&migrateVersion, "version", 0, "Migrate to this version instead of the latest")
	migrateCmd.Flags().IntVar(&migrateForce, "force", 0, "Force the schema version before migrating (clears a dirty state)")
}
