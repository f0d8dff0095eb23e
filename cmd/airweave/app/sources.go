// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/airweave/airweave-go/pkg/sources"
)

// sourceSummary is the YAML shape printed per registered connector.
type sourceSummary struct {
	ShortName          string   `yaml:"short_name"`
	DisplayName        string   `yaml:"display_name"`
	AuthVariants       []string `yaml:"auth_variants"`
	TemplateFields     []string `yaml:"template_fields,omitempty"`
	DefaultCursorField string   `yaml:"default_cursor_field,omitempty"`
	Incremental        bool     `yaml:"incremental"`
}

// newSourcesCmd creates the sources command listing registered connectors
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available source connectors",
		Long: `List the source connectors compiled into this binary, with the
authentication variants and configuration fields each one accepts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []sourceSummary
			for _, d := range sources.DefaultRegistry.List() {
				variants := make([]string, 0, len(d.AuthVariants))
				for _, v := range d.AuthVariants {
					variants = append(variants, string(v))
				}
				out = append(out, sourceSummary{
					ShortName:          d.ShortName,
					DisplayName:        d.DisplayName,
					AuthVariants:       variants,
					TemplateFields:     d.TemplateFields,
					DefaultCursorField: d.DefaultCursorField,
					Incremental:        d.DefaultCursorField != "",
				})
			}
			encoded, err := yaml.Marshal(out)
			if err != nil {
				return fmt.Errorf("encoding source list: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}
