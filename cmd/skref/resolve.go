package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skref/internal/resolve"
	"skref/internal/section"
	"skref/internal/watcher"
)

var (
	resolveProject    string
	resolveWatch      bool
	resolveProvenance bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <document-id>",
	Short: "Print the effective document for a project",
	Long: `Resolve a document by layering user, project-shared and project-local
overrides on top of its base version.

The project may be a registered project id or a directory path. Without
--project only the base and user tiers apply.

Examples:
  skref resolve error-lifecycle --project api
  skref resolve error-lifecycle --project . --provenance
  skref resolve error-lifecycle --project api --watch`,
	Args: exactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveProject, "project", "p", "", "Project id or directory")
	resolveCmd.Flags().BoolVarP(&resolveWatch, "watch", "w", false, "Re-resolve whenever an override or the base changes")
	resolveCmd.Flags().BoolVar(&resolveProvenance, "provenance", false, "Show which tier contributed each section")
	rootCmd.AddCommand(resolveCmd)
}

// ResolveResponse is the response format for resolve and preview
type ResolveResponse struct {
	DocumentID     string              `json:"documentId"`
	Document       string              `json:"document"`
	Config         map[string]any      `json:"config,omitempty"`
	Artifacts      []resolve.Artifact  `json:"artifacts,omitempty"`
	Provenance     *resolve.Provenance `json:"provenance"`
	ShowProvenance bool                `json:"-"`
}

func newResolveResponse(docID string, eff *resolve.Effective, showProvenance bool) *ResolveResponse {
	return &ResolveResponse{
		DocumentID:     docID,
		Document:       section.Render(eff.Document),
		Config:         eff.Config,
		Artifacts:      eff.Artifacts,
		Provenance:     eff.Provenance,
		ShowProvenance: showProvenance,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	docID := args[0]
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	eff, err := env.engine.ResolveDocument(ctx, docID, resolveProject)
	if err != nil {
		return err
	}
	if err := printResponse(cmd, newResolveResponse(docID, eff, resolveProvenance)); err != nil {
		return err
	}
	if !resolveWatch {
		return nil
	}
	return watchResolve(ctx, cmd, env, docID)
}

// watchResolve re-resolves after every debounced batch of changes until ctx
// is cancelled. Resolution errors are reported and watching continues.
func watchResolve(ctx context.Context, cmd *cobra.Command, env *cliEnv, docID string) error {
	roots, err := env.engine.WatchRoots(docID, resolveProject)
	if err != nil {
		return err
	}
	logger := env.factory.WatchLogger()

	cfg := watcher.DefaultConfig()
	cfg.DebounceMs = env.config.Watch.DebounceMs
	w, err := watcher.New(cfg, logger, func(events []watcher.Event) {
		start := time.Now()
		eff, err := env.engine.ResolveDocument(ctx, docID, resolveProject)
		if err != nil {
			reportError(cmd.ErrOrStderr(), err, OutputFormat(formatFlag))
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "--- %d change(s), re-resolved in %s ---\n", len(events), time.Since(start).Round(time.Millisecond))
		if err := printResponse(cmd, newResolveResponse(docID, eff, resolveProvenance)); err != nil {
			logger.Warn("Failed to print resolution", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	for _, root := range roots {
		if err := w.AddRoot(root); err != nil {
			return err
		}
	}
	w.Start(ctx)
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d directories for %s (Ctrl-C to stop)\n", len(roots), docID)

	<-ctx.Done()
	return nil
}
