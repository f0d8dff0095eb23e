// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airweave/airweave-go/pkg/api"
	"github.com/airweave/airweave-go/pkg/config"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/scheduler"
)

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	if cfg.Scheduler.Enabled {
		var opts []scheduler.Option
		if cfg.Scheduler.Tick > 0 {
			opts = append(opts, scheduler.WithTick(cfg.Scheduler.Tick))
		}
		sched := scheduler.New(sys.stores.Syncs, sys.stores.Jobs, sys.runtime, logger.Get(), opts...)
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("Scheduler stopped: %v", err)
			}
		}()
	}

	logger.Infof("Starting server on %s", cfg.Server.Address)
	return api.Serve(ctx, cfg.Server.Address, api.Deps{
		Collections: sys.collections,
		Connections: sys.connections,
		Syncs:       sys.syncs,
		Search:      sys.search,
	})
}

// loadConfig reads the configuration from the --config flag and the
// environment.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if configPath != "" {
		logger.Infof("Loaded configuration from %s", configPath)
	}
	return cfg, nil
}
