// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"

	"github.com/spf13/cobra"
)

// EngineCommands returns the batch estimator commands
func EngineCommands(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Batch estimator commands",
		Long: `Batch estimator commands for the learning engine.

Available commands:
  compute-content-difficulty - Recompute difficulty profiles from the event stream
  compute-user-abilities     - Recompute user ability profiles and the global ranking
  compute-match-scores       - Recompute per-user match scores`,
	}

	engineCmd.AddCommand(computeDifficultyCmd(cfg, logger, db))
	engineCmd.AddCommand(computeAbilitiesCmd(cfg, logger, db))
	engineCmd.AddCommand(computeMatchScoresCmd(cfg, logger, db))

	return engineCmd
}

func computeDifficultyCmd(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	var windowDays, minAttempts int
	var itemKind string

	cmd := &cobra.Command{
		Use:   "compute-content-difficulty",
		Short: "Recompute content difficulty profiles",
		Long: `Recompute content difficulty profiles from graded answer events.

Items with fewer attempts than --min-attempts inside the window keep
their previous profile.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			service := services.NewDifficultyServiceWithLogger(db, cfg, logger)

			start := time.Now()
			updated, err := service.ComputeAll(ctx, services.DifficultyBatchOptions{
				WindowDays:  windowDays,
				MinAttempts: minAttempts,
				ItemKind:    models.ItemKind(itemKind),
			})
			if err != nil {
				logger.Error(ctx, "Difficulty computation failed", err, nil)
				return contextutils.WrapError(err, "difficulty computation failed")
			}

			logger.Info(ctx, "Difficulty computation completed", map[string]interface{}{
				"items_updated": updated,
				"duration_ms":   time.Since(start).Milliseconds(),
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&windowDays, "window-days", cfg.Engine.DifficultyWindowDays, "Event window in days")
	cmd.Flags().IntVar(&minAttempts, "min-attempts", cfg.Engine.DifficultyMinAttempts, "Minimum graded attempts per item")
	cmd.Flags().StringVar(&itemKind, "item-kind", "", "Restrict to one item kind (quiz or question)")

	return cmd
}

func computeAbilitiesCmd(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	var windowDays, minAttempts, userID int

	cmd := &cobra.Command{
		Use:   "compute-user-abilities",
		Short: "Recompute user ability profiles",
		Long: `Recompute user ability profiles and the global ranking.

Run compute-content-difficulty first so the ELO updates see current
item difficulty.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			service := services.NewAbilityServiceWithLogger(db, cfg, logger)

			start := time.Now()
			updated, err := service.ComputeAll(ctx, services.AbilityBatchOptions{
				WindowDays:  windowDays,
				MinAttempts: minAttempts,
				UserID:      userID,
			})
			if err != nil {
				logger.Error(ctx, "Ability computation failed", err, nil)
				return contextutils.WrapError(err, "ability computation failed")
			}

			logger.Info(ctx, "Ability computation completed", map[string]interface{}{
				"profiles_updated": updated,
				"duration_ms":      time.Since(start).Milliseconds(),
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&windowDays, "window-days", cfg.Engine.AbilityWindowDays, "Event window in days")
	cmd.Flags().IntVar(&minAttempts, "min-attempts", cfg.Engine.AbilityMinAttempts, "Minimum graded attempts per user")
	cmd.Flags().IntVar(&userID, "user-id", 0, "Restrict to one user (0 means all)")

	return cmd
}

func computeMatchScoresCmd(cfg *config.Config, logger *observability.Logger, db *sql.DB) *cobra.Command {
	var topN, userID int

	cmd := &cobra.Command{
		Use:   "compute-match-scores",
		Short: "Recompute match scores",
		Long: `Recompute per-user match scores against published items.

Only users with an ability profile are scored; run
compute-user-abilities first.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			service := services.NewMatchServiceWithLogger(db, cfg, logger)

			start := time.Now()
			var processed int
			var err error
			if userID > 0 {
				processed, err = service.ComputeForUser(ctx, userID, topN)
			} else {
				processed, err = service.ComputeAll(ctx, services.MatchBatchOptions{TopN: topN})
			}
			if err != nil {
				logger.Error(ctx, "Match computation failed", err, nil)
				return contextutils.WrapError(err, "match computation failed")
			}

			logger.Info(ctx, "Match computation completed", map[string]interface{}{
				"processed":   processed,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&topN, "top-n", cfg.Engine.MatchTopN, "Number of match scores to keep per user")
	cmd.Flags().IntVar(&userID, "user-id", 0, "Restrict to one user (0 means all)")

	return cmd
}
