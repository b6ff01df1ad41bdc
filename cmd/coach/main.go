package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/interviewcoach/internal/cli"
	"github.com/cloo-solutions/interviewcoach/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "coach",
		Short: "Interview coach CLI - practice answers and get scored feedback",
		Long: `Coach drives practice sessions: start a session for a question, stream a
recorded answer, then request feedback.

Environment variables:
  COACH_API_KEY   API key for authentication
  COACH_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.StartCmd())
	rootCmd.AddCommand(client.StreamCmd())
	rootCmd.AddCommand(client.CompleteCmd())
	rootCmd.AddCommand(client.ShowCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.CancelCmd())
	rootCmd.AddCommand(client.AuthCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
