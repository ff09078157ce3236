// pbd-ops is the operator CLI for the donation pipeline.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/pbd-ops migrate
//	go run ./cmd/pbd-ops reconcile            # run the poller once, inline
//	go run ./cmd/pbd-ops reconcile --publish  # ask the deployed service via Pub/Sub
//	go run ./cmd/pbd-ops token --user ops-1 --role admin
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pbd-ops",
		Short:         "Operator tooling for Powered by Donation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newTokenCmd(), newReconcileCmd(), newRunsCmd(), newExportReviewCmd())
	return root
}

func openDB() (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized (config.GetDB returned nil); set DB_* env vars")
	}
	return db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the donation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			if err := models.MigrateTable(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with API_SECRET (local testing only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.LoadSettings()
			if settings.AuthSecret == "" {
				return fmt.Errorf("API_SECRET is not set")
			}
			switch role {
			case utils.RoleDonor, utils.RoleFundraiser, utils.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := utils.JwtGenerate([]byte(settings.AuthSecret), userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", utils.RoleDonor, "donor, fundraiser or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
