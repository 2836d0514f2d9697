package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute every pattern from the refinement log",
	Long: `Discard the pattern aggregates and replay the refinement log. Dismissed
and generalized patterns keep their status.`,
	Args: exactArgs(0),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	stats, err := env.engine.RebuildPatterns(ctx)
	if err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{
		Message: fmt.Sprintf("Replayed %d refinements into %d patterns (%d ready)", stats.Refinements, stats.Patterns, stats.Ready),
		Data:    stats,
	})
}
