package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentbridge " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
