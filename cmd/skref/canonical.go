package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skref/internal/errors"
)

var canonicalCmd = &cobra.Command{
	Use:   "canonical <pattern-id> [patch-file]",
	Short: "Show or set the canonical edit of a pattern",
	Long: `With a patch file, store it as the reviewed edit the pattern promotes.
The text must parse as a patch file. Without one, print the stored edit.

Examples:
  skref canonical 3f2a91c04be17d20 reviewed.patch.md
  skref canonical 3f2a91c04be17d20`,
	Args: rangeArgs(1, 2),
	RunE: runCanonical,
}

func init() {
	rootCmd.AddCommand(canonicalCmd)
}

func runCanonical(cmd *cobra.Command, args []string) error {
	var text []byte
	if len(args) == 2 {
		var err error
		if text, err = readInput(cmd, args[1]); err != nil {
			return err
		}
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	patternID := args[0]
	if text != nil {
		if err := env.engine.SetCanonicalEdit(ctx, patternID, string(text)); err != nil {
			return err
		}
		return printResponse(cmd, &MessageResponse{Message: fmt.Sprintf("Canonical edit stored for %s", patternID)})
	}

	edit, err := env.engine.CanonicalEdit(ctx, patternID)
	if err != nil {
		return err
	}
	if edit == nil {
		return errors.Newf(errors.CanonicalEditMissing, "pattern %s has no canonical edit", patternID)
	}
	return printResponse(cmd, &MessageResponse{Message: edit.PatchText, Data: edit})
}
