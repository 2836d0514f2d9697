package main

import (
	"github.com/spf13/cobra"

	"skref/internal/ledger"
	"skref/internal/promote"
)

var promoteEditFile string

var promoteCmd = &cobra.Command{
	Use:   "promote <pattern-id>",
	Short: "Apply a ready pattern's canonical edit to the base",
	Long: `Promote a Ready pattern: its canonical edit is applied to every base
document the pattern affects, each gaining one version. Either every
document is updated or none is.

The edit is the one stored with 'skref canonical', or --edit-file, which
also replaces the stored edit.

Examples:
  skref promote 3f2a91c04be17d20
  skref promote 3f2a91c04be17d20 --edit-file reviewed.patch.md`,
	Args: exactArgs(1),
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().StringVarP(&promoteEditFile, "edit-file", "f", "", "Patch file to promote (- for stdin)")
	rootCmd.AddCommand(promoteCmd)
}

// PromoteResponse is the response format for promote
type PromoteResponse struct {
	PatternID  string                   `json:"patternId"`
	Documents  []promote.DocumentResult `json:"documents"`
	Promotions []ledger.Promotion       `json:"promotions"`
}

func runPromote(cmd *cobra.Command, args []string) error {
	var inline string
	if promoteEditFile != "" {
		data, err := readInput(cmd, promoteEditFile)
		if err != nil {
			return err
		}
		inline = string(data)
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	res, err := env.engine.PromotePattern(ctx, args[0], inline)
	if err != nil {
		return err
	}
	return printResponse(cmd, &PromoteResponse{
		PatternID:  res.PatternID,
		Documents:  res.Documents,
		Promotions: res.Promotions,
	})
}
