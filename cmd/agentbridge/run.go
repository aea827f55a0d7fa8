package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/config"
)

var runCwd string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single turn and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		if runCwd != "" {
			cfg.WorkDir = runCwd
		}

		agent := buildAgent(cfg, nil)
		defer agent.Close()

		ctx := cmd.Context()
		turn, err := agent.Chat(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("start turn: %w", err)
		}
		return drainTurn(ctx, turn, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory override")
}
