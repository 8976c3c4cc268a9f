// Ngao — Security-First Chatbot Backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ngao",
	Short: "Ngao — Security-first chatbot backend with sandboxed tool execution.",
	Long: `Ngao is a chatbot backend built around a security pipeline: every code
execution, file access, and network request a conversation triggers is
validated against policy, sandboxed, and written to an audit trail
before the result reaches the model or the user.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, checkCmd, versionCmd)
	_ = godotenv.Load()

}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
