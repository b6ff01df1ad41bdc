package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())

	return cmd
}

func authLoginCmd() *cobra.Command {
	var apiKey, apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store API key and URL in the global config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Enter API key: ")
				key, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read API key: %w", err)
				}
				apiKey = key
			}
			if apiKey == "" {
				return fmt.Errorf("API key cannot be empty")
			}

			if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged in")
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")

	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where credentials come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")
			source, apiKey, apiURL, err := ResolveCredentials(flagKey, flagURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				status := map[string]any{
					"authenticated": source != SourceNone,
					"source":        string(source),
					"api_url":       apiURL,
				}
				if source != SourceNone {
					status["api_key"] = maskAPIKey(apiKey)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			if source == SourceNone {
				fmt.Fprintf(out, "No API key configured (server at %s)\n", apiURL)
				return nil
			}
			fmt.Fprintf(out, "Source: %s\nAPI Key: %s\nAPI URL: %s\n", source, maskAPIKey(apiKey), apiURL)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
