package main

import (
	"github.com/spf13/cobra"

	"skref/internal/version"
)

var (
	// homeFlag overrides SKREF_HOME and ~/.skref
	homeFlag   string
	verbosity  int
	quietFlag  bool
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "skref",
	Short: "skref - layered skill document resolution",
	Long: `skref resolves skill documents from a versioned base plus user, project-shared
and project-local overrides, tracks recurring refinements across projects, and
promotes reviewed patterns back into the base.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("skref version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "skref home directory (default: $SKREF_HOME or ~/.skref)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format (json, human)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
}
