package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger to a compressed bundle",
	Long: `Export every refinement, pattern, canonical edit and promotion as a
zstd-compressed JSON bundle that another skref home can import.

Examples:
  skref export -o team.skref
  skref export | ssh build-host skref import -`,
	Args: exactArgs(0),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <bundle|->",
	Short: "Merge an exported bundle into the ledger",
	Long: `Merge a bundle into this ledger. Refinements already present are skipped,
refinement ids that collide are renumbered, and patterns seen in both
ledgers are merged. The import is all-or-nothing.`,
	Args: exactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Bundle file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	// The bundle is buffered so a failed export never leaves a partial file.
	var buf bytes.Buffer
	bundle, err := env.engine.Export(ctx, &buf)
	if err != nil {
		return err
	}

	summary := &MessageResponse{
		Message: fmt.Sprintf("Exported %d refinements, %d patterns, %d canonical edits, %d promotions",
			len(bundle.Refinements), len(bundle.Patterns), len(bundle.CanonicalEdits), len(bundle.Promotions)),
		Data: map[string]any{"bundleId": bundle.ID, "output": exportOutput},
	}

	if exportOutput == "" {
		if _, err := io.Copy(cmd.OutOrStdout(), &buf); err != nil {
			return err
		}
		return writeResponse(cmd.ErrOrStderr(), summary)
	}
	if err := os.WriteFile(exportOutput, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return printResponse(cmd, summary)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
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

	stats, err := env.engine.Import(ctx, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{
		Message: fmt.Sprintf("Imported bundle %s: %d refinements (%d renumbered, %d already present), %d patterns created, %d merged",
			stats.BundleID, stats.Refinements, stats.Renumbered, stats.Duplicates, stats.PatternsCreated, stats.PatternsMerged),
		Data: stats,
	})
}
