package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skref/internal/projects"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
	Long: `Register project directories under short ids so --project can name them.
A project's shared overrides live in <dir>/.skref/skills and its local
overrides in <dir>/.skref/local/skills unless configured otherwise.`,
}

var projectAddCmd = &cobra.Command{
	Use:   "add <id> [dir]",
	Short: "Register a project directory (default: current directory)",
	Args:  rangeArgs(1, 2),
	RunE:  runProjectAdd,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  exactArgs(0),
	RunE:  runProjectList,
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a project; its files are left alone",
	Args:  exactArgs(1),
	RunE:  runProjectRemove,
}

var projectWhichCmd = &cobra.Command{
	Use:   "which [dir]",
	Short: "Show the registered project containing a directory",
	Args:  rangeArgs(0, 1),
	RunE:  runProjectWhich,
}

func init() {
	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectRemoveCmd, projectWhichCmd)
	rootCmd.AddCommand(projectCmd)
}

// ProjectsResponse is the response format for project list and which
type ProjectsResponse struct {
	Projects []projects.Project `json:"projects"`
}

func dirArg(args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	return os.Getwd()
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	dir, err := dirArg(args, 1)
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

	p, err := env.engine.Projects().Add(ctx, args[0], dir)
	if err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{
		Message: fmt.Sprintf("Registered project %s at %s", p.ID, p.Path),
		Data:    p,
	})
}

func runProjectList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	list, err := env.engine.Projects().List()
	if err != nil {
		return err
	}
	if list == nil {
		list = []projects.Project{}
	}
	return printResponse(cmd, &ProjectsResponse{Projects: list})
}

func runProjectRemove(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	if err := env.engine.Projects().Remove(ctx, args[0]); err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{Message: fmt.Sprintf("Removed project %s", args[0])})
}

func runProjectWhich(cmd *cobra.Command, args []string) error {
	dir, err := dirArg(args, 0)
	if err != nil {
		return err
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	p, err := env.engine.Projects().FindByPath(dir)
	if err != nil {
		return err
	}
	return printResponse(cmd, &ProjectsResponse{Projects: []projects.Project{*p}})
}
