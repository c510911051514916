// Package main provides the main entry point for the learning engine admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"zporta/cmd/adm/commands"
	"zporta/internal/config"
	"zporta/internal/database"
	"zporta/internal/observability"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	// Set default config file if not already set
	if os.Getenv("ZPORTA_CONFIG_FILE") == "" {
		defaultPaths := []string{
			"../config.yaml",
			"../../config.yaml",
			"config.yaml",
		}

		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv("ZPORTA_CONFIG_FILE", path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set ZPORTA_CONFIG_FILE environment variable: %v\n", err)
					os.Exit(1)
				}
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Quiet the admin tool and skip the OTLP exporters
	cfg.Server.LogLevel = "error"
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	_, _, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "zporta-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	dbManager := database.NewManager(logger)
	db, err := dbManager.InitDBWithoutMigrations(cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to connect to database", err, map[string]interface{}{"db_url": cfg.Database.URL})
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Warning: failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Learning Engine Administration Tool",
		Long: `Learning Engine Administration Tool

A CLI tool for administering the personalized learning engine.
Provides commands for running the batch estimators, managing the
insight cache, repairing event metadata, and inspecting the database.`,

		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.EngineCommands(cfg, logger, db))
	rootCmd.AddCommand(commands.CacheCommands(cfg, logger, db))
	rootCmd.AddCommand(commands.EventCommands(cfg, logger, db))
	rootCmd.AddCommand(commands.DatabaseCommands(logger, db))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
