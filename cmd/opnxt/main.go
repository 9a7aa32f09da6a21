// Command opnxt runs the document orchestrator service and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"opnxt/pkg/config"
	"opnxt/pkg/logx"
	"opnxt/pkg/version"
)

// newRootCmd builds the command tree. It is a function so tests get fresh flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "opnxt",
		Short:         "Phase-driven document orchestrator for software projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("OPNXT_CONFIG"),
		"path to the YAML config file (defaults apply when empty)")
	rootCmd.SetVersionTemplate(version.String() + "\n")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newAgentsCmd(load),
		newUsageCmd(load),
		newSecretsCmd(load),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logx.NewLogger("opnxt").Error("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
