package commands

import (
	"context"
	"database/sql"
	"os"

	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(logger *observability.Logger, db *sql.DB) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the learning engine.

Available commands:
  stats - Show database statistics`,
	}

	dbCmd.AddCommand(statsCmd(logger, db))

	return dbCmd
}

func statsCmd(logger *observability.Logger, db *sql.DB) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  `Show row counts for the core engine tables.`,
		RunE:  runStats(logger, db),
	}
}

func runStats(logger *observability.Logger, db *sql.DB) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		logger.Info(ctx, "Diagnostic info", map[string]interface{}{
			"config_file": os.Getenv("ZPORTA_CONFIG_FILE"),
			"database":    getDatabaseInfo(db),
		})

		tables := []string{
			"activity_events",
			"memory_stats",
			"content_difficulty_profiles",
			"user_ability_profiles",
			"match_scores",
			"cached_ai_insights",
			"cache_statistics",
			"podcasts",
			"worker_runs",
		}

		counts := map[string]interface{}{}
		for _, table := range tables {
			var count int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
				logger.Error(ctx, "Failed to count table rows", err, map[string]interface{}{"table": table})
				return contextutils.WrapErrorf(err, "failed to count rows in %s", table)
			}
			counts[table] = count
		}

		logger.Info(ctx, "Database statistics", counts)
		return nil
	}
}
