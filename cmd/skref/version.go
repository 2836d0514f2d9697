package main

import (
	"github.com/spf13/cobra"

	"skref/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		if OutputFormat(formatFlag) == FormatJSON {
			return printResponse(cmd, version.Get())
		}
		return printResponse(cmd, &MessageResponse{Message: version.Full()})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
