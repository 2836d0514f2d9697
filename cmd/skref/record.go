package main

import (
	"github.com/spf13/cobra"

	"skref/internal/tracker"
)

var (
	recordProject  string
	recordDocument string
	recordCategory string
	recordKind     string
	recordDiff     string
	recordDiffFile string
	recordSummary  string
	recordName     string
	recordVars     []string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a committed override edit as a refinement",
	Long: `Append a refinement to the ledger and fold it into its pattern. Edits that
differ only in the listed variable values share a pattern.

Examples:
  skref record --project api --document error-lifecycle --category hook \
      --kind patch --diff-file change.diff --var api-service
  git diff -U0 | skref record -p api -d error-lifecycle -c hook -k patch --diff-file -`,
	Args: exactArgs(0),
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVarP(&recordProject, "project", "p", "", "Project the edit was made in")
	f.StringVarP(&recordDocument, "document", "d", "", "Document the edit applies to")
	f.StringVarP(&recordCategory, "category", "c", "", "Refinement category (e.g. hook, config, wording)")
	f.StringVarP(&recordKind, "kind", "k", "patch", "Override kind (patch, extend, config, full, hook, script)")
	f.StringVar(&recordDiff, "diff", "", "Diff text of the edit")
	f.StringVar(&recordDiffFile, "diff-file", "", "File holding the diff (- for stdin)")
	f.StringVar(&recordSummary, "summary", "", "One-line description (default: derived from the diff)")
	f.StringVar(&recordName, "name", "", "Pattern name used when this refinement creates a pattern")
	f.StringArrayVar(&recordVars, "var", nil, "Project-specific value to mask before matching (repeatable)")
	_ = recordCmd.MarkFlagRequired("project")
	_ = recordCmd.MarkFlagRequired("document")
	_ = recordCmd.MarkFlagRequired("category")
	recordCmd.MarkFlagsMutuallyExclusive("diff", "diff-file")
	recordCmd.MarkFlagsOneRequired("diff", "diff-file")
	rootCmd.AddCommand(recordCmd)
}

// RecordResponse is the response format for record
type RecordResponse struct {
	*tracker.UpdateResult
	Threshold int `json:"threshold"`
}

func runRecord(cmd *cobra.Command, args []string) error {
	diff := recordDiff
	if recordDiffFile != "" {
		data, err := readInput(cmd, recordDiffFile)
		if err != nil {
			return err
		}
		diff = string(data)
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	res, err := env.engine.RecordRefinement(ctx, tracker.RefinementInput{
		ProjectID:    recordProject,
		DocumentID:   recordDocument,
		Category:     recordCategory,
		OverrideKind: recordKind,
		Diff:         diff,
		Summary:      recordSummary,
		Name:         recordName,
		Variables:    recordVars,
	})
	if err != nil {
		return err
	}
	return printResponse(cmd, &RecordResponse{UpdateResult: res, Threshold: env.config.Tracker.Threshold})
}
