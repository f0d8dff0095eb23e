// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/airweave/airweave-go/pkg/search"
)

// newSearchCmd creates the search command
func newSearchCmd() *cobra.Command {
	var (
		orgFlag   string
		limit     int
		expansion bool
		interpret bool
		rerank    bool
		answer    bool
	)

	cmd := &cobra.Command{
		Use:   "search <collection> <query>",
		Short: "Search a collection",
		Long: `Run a search against a collection's vector namespace and print the
response as JSON. The collection is addressed by its readable ID.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			org, err := uuid.Parse(orgFlag)
			if err != nil {
				return fmt.Errorf("invalid --org value: %w", err)
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

			opts := search.Options{
				Limit:          limit,
				Interpret:      interpret,
				Rerank:         rerank,
				GenerateAnswer: answer,
			}
			if expansion {
				opts.Expansion = search.ExpansionLLM
			}

			resp, err := sys.search.Search(ctx, org, args[0], args[1], opts)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&orgFlag, "org", "", "Organization ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&expansion, "expand", false, "Expand the query with LLM-generated variants")
	cmd.Flags().BoolVar(&interpret, "interpret", false, "Extract filters from the query with the LLM")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank results with the LLM")
	cmd.Flags().BoolVar(&answer, "answer", false, "Generate an answer from the results")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
