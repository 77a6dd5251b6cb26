package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loanctl",
		Short:         "Operate the loan engine: preview schedules, seed the directory, age the portfolio",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	root.PersistentFlags().String("db", "", "SQLite database path (overrides config)")

	root.AddCommand(scheduleCmd())
	root.AddCommand(reevaluateCmd())
	root.AddCommand(productsCmd())
	root.AddCommand(customersCmd())

	return root
}
