package main

import (
	"github.com/spf13/cobra"

	"skref/internal/ledger"
)

var (
	patternsStatus   string
	patternsCategory string
	patternsDocument string
	patternsProject  string
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List recurring refinement patterns",
	Long: `List patterns, most frequent first.

Examples:
  skref patterns --status ready
  skref patterns --document error-lifecycle --format json
  skref patterns show 3f2a91c04be17d20`,
	Args: exactArgs(0),
	RunE: runPatterns,
}

var patternsShowCmd = &cobra.Command{
	Use:   "show <pattern-id>",
	Short: "Show a pattern with its refinements and canonical edit",
	Args:  exactArgs(1),
	RunE:  runPatternsShow,
}

func init() {
	f := patternsCmd.Flags()
	f.StringVar(&patternsStatus, "status", "", "Only patterns in this status (tracking, ready, generalized, dismissed)")
	f.StringVar(&patternsCategory, "category", "", "Only patterns of this category")
	f.StringVarP(&patternsDocument, "document", "d", "", "Only patterns affecting this document")
	f.StringVarP(&patternsProject, "project", "p", "", "Only patterns seen in this project")
	patternsCmd.AddCommand(patternsShowCmd)
	rootCmd.AddCommand(patternsCmd)
}

// PatternsResponse is the response format for patterns
type PatternsResponse struct {
	Patterns []ledger.Pattern `json:"patterns"`
}

// PatternShowResponse is the response format for patterns show
type PatternShowResponse struct {
	Pattern       *ledger.Pattern       `json:"pattern"`
	Refinements   []ledger.Refinement   `json:"refinements"`
	CanonicalEdit *ledger.CanonicalEdit `json:"canonicalEdit,omitempty"`
}

func runPatterns(cmd *cobra.Command, args []string) error {
	filter := ledger.PatternFilter{
		Category:   patternsCategory,
		DocumentID: patternsDocument,
		ProjectID:  patternsProject,
	}
	if patternsStatus != "" {
		st, err := ledger.ParseStatus(patternsStatus)
		if err != nil {
			return usageError{err}
		}
		filter.Status = st
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	patterns, err := env.engine.ListPatterns(ctx, filter)
	if err != nil {
		return err
	}
	if patterns == nil {
		patterns = []ledger.Pattern{}
	}
	return printResponse(cmd, &PatternsResponse{Patterns: patterns})
}

func runPatternsShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	p, err := env.engine.GetPattern(ctx, args[0])
	if err != nil {
		return err
	}
	refs, err := env.engine.Refinements(ctx, p.ID)
	if err != nil {
		return err
	}
	edit, err := env.engine.CanonicalEdit(ctx, p.ID)
	if err != nil {
		return err
	}
	return printResponse(cmd, &PatternShowResponse{Pattern: p, Refinements: refs, CanonicalEdit: edit})
}
