package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/donation"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/reconcile"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings := config.LoadSettings()
			logger := config.GetLogger()

			if publish {
				id, err := reconcile.RequestRun(ctx, settings.ReconcileTopic, models.ReconcileTriggeredCLI)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published reconcile request %s to %s\n", id, settings.ReconcileTopic)
				return nil
			}

			db, err := openDB()
			if err != nil {
				return err
			}

			opts := reconcile.Options{
				BatchSize: settings.ReconcileBatch,
				LockTTL:   settings.ReconcileLockTTL,
				Logger:    logger,
				Runs:      reconcile.NewRunStore(db),
			}
			redisCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			config.ConnectRedisWithRetry(redisCtx)
			cancel()
			if l := config.GetRedisLock(); l != nil {
				opts.Locker = l
			}

			store := donation.NewGormStore(db, logger)
			if settings.DonationTopic != "" {
				store.SetNotifier(donation.NewEventPublisher(settings.DonationTopic, nil, logger))
			}
			poller := reconcile.NewPoller(store, gateway.NewRegistry(settings, nil), opts)

			sum, err := poller.RunOnce(ctx, models.ReconcileTriggeredCLI)
			if sum != nil {
				printJSON(cmd, sum)
			}
			if err != nil {
				return err
			}
			if sum.TransportErrors > 0 {
				return fmt.Errorf("%d rows hit processor transport errors", sum.TransportErrors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "publish a trigger to RECONCILE_TOPIC instead of running inline")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recent reconcile runs, or show one with its row errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			runs := reconcile.NewRunStore(db)
			if len(args) == 0 {
				list, err := runs.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printJSON(cmd, list)
				return nil
			}
			var id uint
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil || id == 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			run, rowErrors, err := runs.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			printJSON(cmd, map[string]interface{}{"run": run, "errors": rowErrors})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func newExportReviewCmd() *cobra.Command {
	var (
		out          string
		fundraiserID string
	)
	cmd := &cobra.Command{
		Use:   "export-review",
		Short: "Write requests awaiting fundraiser review to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			store := donation.NewGormStore(db, config.GetLogger())
			rows, err := store.List(cmd.Context(), donation.ListFilter{
				Status:       models.DonationRequestStatusFundraiserReview,
				FundraiserID: fundraiserID,
				Limit:        200,
			})
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := donation.WriteReviewWorkbook(f, rows); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(rows), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "donation-review.xlsx", "output file")
	cmd.Flags().StringVar(&fundraiserID, "fundraiser", "", "only rows for this fundraiser")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
