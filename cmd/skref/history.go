package main

import (
	"github.com/spf13/cobra"

	"skref/internal/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history [pattern-id]",
	Short: "List promotions into the base",
	Args:  rangeArgs(0, 1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

// HistoryResponse is the response format for history
type HistoryResponse struct {
	Promotions []ledger.Promotion `json:"promotions"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	var patternID string
	if len(args) == 1 {
		patternID = args[0]
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	promotions, err := env.engine.History(ctx, patternID)
	if err != nil {
		return err
	}
	if promotions == nil {
		promotions = []ledger.Promotion{}
	}
	return printResponse(cmd, &HistoryResponse{Promotions: promotions})
}
