package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skref/internal/tier"
)

var (
	previewProject    string
	previewTier       string
	previewPatchFile  string
	previewProvenance bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <document-id>",
	Short: "Show the effect of a patch file without saving it",
	Long: `Resolve a document as if the given patch file were one more layer of a
tier, applied after that tier's own patch files. Nothing is written.

Examples:
  skref preview error-lifecycle --tier local --project api --patch-file fix.patch.md
  cat fix.patch.md | skref preview error-lifecycle --tier user --patch-file -`,
	Args: exactArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewProject, "project", "p", "", "Project id or directory")
	previewCmd.Flags().StringVar(&previewTier, "tier", "local", "Tier the patch would live in (user, shared, local)")
	previewCmd.Flags().StringVarP(&previewPatchFile, "patch-file", "f", "", "Patch file to preview (- for stdin)")
	previewCmd.Flags().BoolVar(&previewProvenance, "provenance", false, "Show which tier contributed each section")
	_ = previewCmd.MarkFlagRequired("patch-file")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	docID := args[0]
	t, err := tier.Parse(previewTier)
	if err != nil {
		return usageError{err}
	}
	if t == tier.Base {
		return usageError{fmt.Errorf("the base tier cannot be previewed; use skref base put")}
	}
	text, err := readInput(cmd, previewPatchFile)
	if err != nil {
		return err
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	eff, err := env.engine.PreviewPatchText(ctx, docID, previewProject, t, string(text))
	if err != nil {
		return err
	}
	return printResponse(cmd, newResolveResponse(docID, eff, previewProvenance))
}
