package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skref/internal/basestore"
	"skref/internal/section"
)

var baseCmd = &cobra.Command{
	Use:   "base",
	Short: "Manage the versioned base documents",
}

var basePutCmd = &cobra.Command{
	Use:   "put <document-id> <file|->",
	Short: "Import or replace a base document",
	Long: `Store a document in the base tier as its next version. The content must
parse; the previous version is kept for rollback.

Example:
  skref base put error-lifecycle SKILL.md`,
	Args: exactArgs(2),
	RunE: runBasePut,
}

var baseShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print a base document",
	Args:  exactArgs(1),
	RunE:  runBaseShow,
}

var baseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List base documents with their versions",
	Args:  exactArgs(0),
	RunE:  runBaseList,
}

func init() {
	baseCmd.AddCommand(basePutCmd, baseShowCmd, baseListCmd)
	rootCmd.AddCommand(baseCmd)
}

// BaseListResponse is the response format for base list
type BaseListResponse struct {
	Documents []basestore.Entry `json:"documents"`
}

// baseShowData is the JSON payload of base show.
type baseShowData struct {
	basestore.Entry
	Document string `json:"document"`
}

func runBasePut(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[1])
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

	entry, err := env.engine.PutBase(ctx, args[0], content)
	if err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{
		Message: fmt.Sprintf("Stored %s v%d", entry.ID, entry.Version),
		Data:    entry,
	})
}

func runBaseShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	doc, entry, err := env.engine.ShowBase(ctx, args[0])
	if err != nil {
		return err
	}
	text := section.Render(doc)
	return printResponse(cmd, &MessageResponse{
		Message: text,
		Data:    baseShowData{Entry: entry, Document: text},
	})
}

func runBaseList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	list, err := env.engine.ListBase()
	if err != nil {
		return err
	}
	if list == nil {
		list = []basestore.Entry{}
	}
	return printResponse(cmd, &BaseListResponse{Documents: list})
}
