package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/config"
	"github.com/haasonsaas/loom/internal/migrate"
	"github.com/haasonsaas/loom/internal/observability"
)

// buildMigrateCmd creates the "migrate" command that imports a legacy
// flat message archive into the canvas store.
func buildMigrateCmd() *cobra.Command {
	var (
		configPath string
		fromPath   string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import a legacy message archive into the canvas store",
		Long: `Import rows from a legacy flat messages database into per-chat
canvases. The run is idempotent: messages already present are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromPath == "" {
				return fmt.Errorf("--from is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})

			store, err := canvas.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := migrate.Run(cmd.Context(), fromPath, store, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d messages (%d skipped).\n", report.Migrated, report.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().StringVar(&fromPath, "from", "", "Path to the legacy messages database")
	return cmd
}
