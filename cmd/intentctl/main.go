// Package main is the entry point for the intentctl binary.
// It is a small operator CLI for querying a running intentd server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intentctl",
		Short: "Query a running intentd server",
		Long: `intentctl reads health, ingestion stats, and session insights from an
intentd server and prints them as indented JSON.

Example:
  intentctl --server http://localhost:8080 insights sess-123`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("server", "s", defaultServer, "Base URL of the intentd server")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		newGetCmd("health", "Show server health", "/health"),
		newGetCmd("stats", "Show ingestion totals", "/api/v1/events/stats"),
		newInsightsCmd(),
	)
	return rootCmd
}

// newGetCmd builds a subcommand that fetches one fixed endpoint.
func newGetCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrint(cmd, path)
		},
	}
}

func newInsightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights [sessionId]",
		Short: "Show insight summaries, or the full insight for one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/insights"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			return fetchAndPrint(cmd, path)
		},
	}
}

func fetchAndPrint(cmd *cobra.Command, path string) error {
	base, err := cmd.Flags().GetString("server")
	if err != nil {
		return fmt.Errorf("failed to get server flag: %w", err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + path
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return printJSON(cmd.OutOrStdout(), body)
}

// printJSON re-indents the server response for terminal reading. Responses
// that are not JSON pass through untouched.
func printJSON(w io.Writer, body []byte) error {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		_, writeErr := fmt.Fprintln(w, strings.TrimSpace(string(body)))
		return writeErr
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
