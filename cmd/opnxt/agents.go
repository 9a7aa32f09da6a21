package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"opnxt/pkg/registry"
)

func newAgentsCmd(load configLoader) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent bound to each phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			descriptors := registry.DefaultCatalog()
			if cfg.Registry.CatalogFile != "" {
				if descriptors, err = registry.LoadCatalog(cfg.Registry.CatalogFile); err != nil {
					return err //nolint:wrapcheck // already names the file
				}
			}
			reg, err := registry.New(descriptors...)
			if err != nil {
				return fmt.Errorf("invalid agent catalog: %w", err)
			}

			out := cmd.OutOrStdout()
			if asYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(reg.Snapshot()); err != nil {
					return fmt.Errorf("failed to encode agents: %w", err)
				}
				return enc.Close() //nolint:wrapcheck // flush only
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tAGENT\tOUTPUT\tSECTIONS")
			for _, d := range reg.Snapshot() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Phase, d.ID, d.OutputFile, strings.Join(d.Sections, ", "))
			}
			return w.Flush() //nolint:wrapcheck // writer error
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print full descriptors as YAML")
	return cmd
}
