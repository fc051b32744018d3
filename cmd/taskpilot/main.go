package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "taskpilot",
		Short: "Taskpilot - autonomous task execution pipeline",
		Long: `Taskpilot turns natural-language task descriptions into committed,
tested code changes. It syncs the target repository, generates an
implementation plan, waits for human approval, then develops, tests,
commits, and reports - resumable at every stage.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
