package commands

import (
	"context"
	"database/sql"

	"zporta/internal/config"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"

	"github.com/spf13/cobra"
)

// EventCommands returns the activity event maintenance commands
func EventCommands(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Activity event maintenance commands",
		Long: `Activity event maintenance commands.

Available commands:
  cleanup-invalid-metadata - Repair events whose metadata is not a JSON object`,
	}

	eventsCmd.AddCommand(cleanupMetadataCmd(cfg, logger, db))

	return eventsCmd
}

func cleanupMetadataCmd(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	var dryRun bool
	var limit int

	cmd := &cobra.Command{
		Use:   "cleanup-invalid-metadata",
		Short: "Repair events whose metadata is not a JSON object",
		Long: `Repair events whose stored metadata is a legacy scalar or list.

Offending values are wrapped under a "legacy_value" key so the row
becomes a valid object without losing data. Use --dry-run to count
affected rows without modifying them.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()

			memoryService := services.NewMemoryServiceWithLogger(db, cfg, logger)
			eventService := services.NewEventServiceWithLogger(db, cfg, memoryService, logger)

			if dryRun {
				count, err := eventService.CountInvalidMetadata(ctx)
				if err != nil {
					logger.Error(ctx, "Counting invalid metadata failed", err, nil)
					return contextutils.WrapError(err, "counting invalid metadata failed")
				}
				logger.Info(ctx, "Invalid metadata rows found", map[string]interface{}{
					"count":   count,
					"dry_run": true,
				})
				return nil
			}

			repaired, err := eventService.CleanupInvalidMetadata(ctx, false, limit)
			if err != nil {
				logger.Error(ctx, "Metadata cleanup failed", err, nil)
				return contextutils.WrapError(err, "metadata cleanup failed")
			}

			logger.Info(ctx, "Metadata cleanup completed", map[string]interface{}{
				"repaired": repaired,
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count affected rows without modifying them")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to repair in one run (0 means no limit)")

	return cmd
}
