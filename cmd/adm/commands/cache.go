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

// CacheCommands returns the insight cache management commands
func CacheCommands(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Insight cache management commands",
		Long: `Insight cache management commands.

Available commands:
  clear-stale - Delete expired cached insights`,
	}

	cacheCmd.AddCommand(clearStaleCmd(cfg, logger, db))

	return cacheCmd
}

func clearStaleCmd(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	var userID int
	var subject string
	var all bool

	cmd := &cobra.Command{
		Use:   "clear-stale",
		Short: "Delete expired cached insights",
		Long: `Delete expired cached insights.

By default only rows past their TTL are deleted. Use --all to drop
matching rows regardless of freshness. --user-id and --subject narrow
the deletion.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()

			statsService := services.NewCacheStatsServiceWithLogger(db, cfg, logger)
			abilityService := services.NewAbilityServiceWithLogger(db, cfg, logger)
			gateway := services.NewProviderGatewayWithLogger(cfg, services.NewHTTPProviderClient(logger), statsService, logger)
			insightService := services.NewInsightServiceWithLogger(db, cfg, gateway, abilityService, statsService, logger)

			deleted, err := insightService.ClearStale(ctx, userID, subject, all)
			if err != nil {
				logger.Error(ctx, "Clearing stale insights failed", err, nil)
				return contextutils.WrapError(err, "clearing stale insights failed")
			}

			logger.Info(ctx, "Stale insights cleared", map[string]interface{}{
				"deleted": deleted,
				"all":     all,
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&userID, "user-id", 0, "Restrict to one user (0 means all)")
	cmd.Flags().StringVar(&subject, "subject", "", "Restrict to one subject tag")
	cmd.Flags().BoolVar(&all, "all", false, "Delete matching rows even if not expired")

	return cmd
}
