package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"opnxt/pkg/metrics"
)

func newUsageCmd(load configLoader) *cobra.Command {
	var (
		provider      string
		prometheusURL string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show generator token usage recorded by Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if prometheusURL == "" {
				prometheusURL = cfg.Metrics.PrometheusURL
			}
			if prometheusURL == "" {
				return errors.New("no Prometheus server configured; set metrics.prometheus_url or --prometheus")
			}

			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			usage, err := q.GetUsage(cmd.Context(), provider)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}

			out := cmd.OutOrStdout()
			if len(usage) == 0 {
				fmt.Fprintln(out, "No token usage recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tPROMPT\tCOMPLETION\tTOTAL\t")
			for _, u := range usage {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t\n", u.Provider, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
			}
			return w.Flush() //nolint:wrapcheck // writer error
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "only show this provider")
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus base URL (overrides metrics.prometheus_url)")
	return cmd
}
