package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bloodnet",
	Short: "Blood inventory and alert coordination platform",
	Long: "bloodnet tracks blood stock across central blood banks, raises and escalates\n" +
		"shortage alerts, and runs the hospital request and donation workflows.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, escalateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
