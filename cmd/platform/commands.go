package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bloodnet/platform/internal/shared/auth"
	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/database"
	"github.com/bloodnet/platform/internal/shared/logging"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.New(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateStatus {
			pending, err := database.Pending(cmd.Context(), db.Pool)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("schema is up to date")
			}
			for _, v := range pending {
				fmt.Println("pending", v)
			}
			return nil
		}

		applied, err := database.Migrate(cmd.Context(), db.Pool, logger)
		if err != nil {
			return err
		}
		logger.Info("migrations complete", zap.Int("applied", len(applied)))
		return nil
	},
}

var migrateStatus bool

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Run one escalation sweep against the database and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Notifications.Start(context.Background()); err != nil {
			return err
		}
		defer app.Notifications.Stop()

		res, err := app.Services.Escalation.Tick(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		app.Logger.Info("escalation sweep", zap.Int("checked", res.Checked), zap.Int("escalated", res.Escalated))
		return json.NewEncoder(os.Stdout).Encode(res)
	},
}

var tokenFlags struct {
	userID string
	role   string
	org    string
	ttl    time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for operators and smoke tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		caller := auth.Caller{Role: tokenFlags.role, UserID: types.NewID()}
		if tokenFlags.userID != "" {
			if caller.UserID, err = types.ParseID(tokenFlags.userID); err != nil {
				return fmt.Errorf("--user: %w", err)
			}
		}
		if tokenFlags.org != "" {
			orgID, err := types.ParseID(tokenFlags.org)
			if err != nil {
				return fmt.Errorf("--org: %w", err)
			}
			caller.OrganizationID = &orgID
		}

		token, err := auth.IssueToken(cfg.Auth, caller, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list pending migrations without applying them")

	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.userID, "user", "", "user ID (random when empty)")
	f.StringVar(&tokenFlags.role, "role", "ADMIN", "caller role")
	f.StringVar(&tokenFlags.org, "org", "", "organization the caller is staff of")
	f.DurationVar(&tokenFlags.ttl, "ttl", time.Hour, "token lifetime")
}
