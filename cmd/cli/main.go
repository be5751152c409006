package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reportmill",
	Short: "reportmill CLI - report scheduling and run orchestration",
	Long: `reportmill CLI is a command-line client for the reportmill engine.
It lists report definitions, inspects run history, triggers ad hoc runs and
cancels runs in flight.`,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "engine base URL")
	rootCmd.AddCommand(newDefinitionsCommand())
	rootCmd.AddCommand(newRunsCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
