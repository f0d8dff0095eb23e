// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/airweave/airweave-go/pkg/logger"
)

// newSyncCmd creates the sync command group
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage syncs",
	}
	cmd.AddCommand(newSyncRunCmd())
	return cmd
}

// newSyncRunCmd creates the sync run command
func newSyncRunCmd() *cobra.Command {
	var orgFlag string

	cmd := &cobra.Command{
		Use:   "run <sync-id>",
		Short: "Run a sync once and follow its progress",
		Long: `Trigger a manual run of a sync and stream its progress until the job
reaches a terminal state. Fails if a run is already pending or in progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			org, err := uuid.Parse(orgFlag)
			if err != nil {
				return fmt.Errorf("invalid --org value: %w", err)
			}
			syncID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid sync id: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sys, err := buildSystem(ctx, cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			job, err := sys.syncs.Run(ctx, org, syncID)
			if err != nil {
				return err
			}
			logger.Infof("Started job %s", job.ID)

			sub, err := sys.syncs.Subscribe(ctx, org, job.ID)
			if err != nil {
				return err
			}
			defer sub.Cancel()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case update, open := <-sub.Updates():
					if !open {
						return nil
					}
					logger.Infow("sync progress",
						"job_id", update.JobID.String(),
						"status", string(update.Status),
						"inserted", update.Stats.Inserted,
						"updated", update.Stats.Updated,
						"deleted", update.Stats.Deleted,
						"skipped", update.Stats.Skipped,
						"failed", update.Stats.Failed,
					)
					if update.Status.Terminal() {
						if update.Message != "" {
							logger.Infof("Job %s finished %s: %s", update.JobID, update.Status, update.Message)
						} else {
							logger.Infof("Job %s finished %s", update.JobID, update.Status)
						}
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&orgFlag, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
