package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wattmint/backend/libs/db"
	"wattmint/backend/libs/logging"
	"wattmint/backend/services/sync-service/internal/app"
	"wattmint/backend/services/sync-service/internal/config"
	"wattmint/backend/services/sync-service/internal/migrate"
	"wattmint/backend/services/sync-service/internal/service"
)

const serviceName = "sync-service"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sync-service",
		Short:         "Incremental verified-delta sync for vendor energy devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newRunCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return err
	}
	defer application.Close(ctx)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			sqlDB, err := db.NewPostgresDB(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer sqlDB.Close()

			if down {
				err = migrate.Down(cmd.Context(), sqlDB)
			} else {
				err = migrate.Up(cmd.Context(), sqlDB)
			}
			if err != nil {
				return err
			}
			version, err := migrate.Version(cmd.Context(), sqlDB)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Int64("version", version))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the latest migration")
	return cmd
}

func newRunCmd() *cobra.Command {
	var userID, callerID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync invocation and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close(ctx)

			if callerID == "" {
				callerID = userID
			}
			result, err := application.Orchestrator().Sync(ctx, service.Request{
				CallerID:     callerID,
				TargetUserID: userID,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user to sync")
	cmd.Flags().StringVar(&callerID, "as", "", "caller identity; must be an admin when it differs from --user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(serviceName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
