package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/config"
)

var accountRefresh bool

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		agent := buildAgent(cfg, nil)
		defer agent.Close()

		info, err := agent.Account(cmd.Context(), accountRefresh)
		if err != nil {
			return err
		}
		if info == nil {
			fmt.Println("not signed in")
			return nil
		}
		fmt.Printf("email: %s\n", info.Email)
		if info.PlanType != "" {
			fmt.Printf("plan:  %s\n", info.PlanType)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		agent := buildAgent(cfg, nil)
		defer agent.Close()

		if err := agent.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(logoutCmd)
	accountCmd.Flags().BoolVar(&accountRefresh, "refresh", false, "Force a token refresh first")
}
