package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/interviewcoach/internal/cli"
	"github.com/cloo-solutions/interviewcoach/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coachd",
		Short: "Interview coach server",
		Long:  "Interview coach daemon: runs the session server and maintains the retrieval index",
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IndexCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
