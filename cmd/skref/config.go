package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skref/internal/config"
	"skref/internal/paths"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the skref configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, including SKREF_* overrides",
	Args:  exactArgs(0),
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the skref home",
	Args:  exactArgs(0),
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.json")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	home, err := resolveHome()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(home)
	if err != nil {
		return err
	}
	return printResponse(cmd, cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := resolveHome()
	if err != nil {
		return err
	}
	path := paths.ConfigPath(home)
	if _, err := os.Stat(path); err == nil && !configForce {
		return usageError{fmt.Errorf("%s already exists (use --force to overwrite)", path)}
	}
	if err := paths.EnsureHome(home); err != nil {
		return err
	}
	if err := config.DefaultConfig().Save(home); err != nil {
		return err
	}
	return printResponse(cmd, &MessageResponse{Message: "Wrote " + path, Data: map[string]string{"path": path}})
}
