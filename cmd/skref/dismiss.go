package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dismissReason string

var dismissCmd = &cobra.Command{
	Use:   "dismiss <pattern-id>",
	Short: "Mark a pattern as not worth generalizing",
	Long: `Dismiss a pattern. Later refinements still count toward it but it never
becomes Ready again.

Example:
  skref dismiss 3f2a91c04be17d20 --reason "project specific"`,
	Args: exactArgs(1),
	RunE: runDismiss,
}

func init() {
	dismissCmd.Flags().StringVar(&dismissReason, "reason", "", "Why the pattern was dismissed")
	rootCmd.AddCommand(dismissCmd)
}

func runDismiss(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	p, err := env.engine.DismissPattern(ctx, args[0], dismissReason)
	if err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{
		Message: fmt.Sprintf("Dismissed pattern %s", p.ID),
		Data:    p,
	})
}
