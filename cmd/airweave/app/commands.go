// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the airweave command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "airweave",
	DisableAutoGenTag: true,
	Short:             "Airweave - turn any app into searchable knowledge",
	Long: `Airweave syncs data from source applications into per-collection
vector namespaces and serves hybrid semantic search over them. It provides:

- Source connections with direct, OAuth and auth-provider credentials
- Incremental entity syncs driven by per-source DAGs
- Cron scheduling and streamed job progress
- Hybrid dense/sparse retrieval with optional query expansion,
  filter interpretation, reranking and answer generation`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the airweave CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// newServeCmd creates the serve command for starting the API server
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Airweave server",
		Long: `Start the Airweave API server.

The server reads the configuration file specified by --config (all settings
can also be supplied through AIRWEAVE_-prefixed environment variables),
opens the metadata and vector stores, and serves the collections,
source-connections, syncs and search APIs. Cron-scheduled syncs run on the
embedded scheduler unless disabled.`,
		RunE: runServe,
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display version information for airweave",
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			logger.Infof("airweave version: %s (commit %s, built %s, %s, %s)",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}
