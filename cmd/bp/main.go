// Package main implements the bp CLI for driving a blueprintd server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the blueprintd HTTP server
	serverURL string
	// jsonOutput prints raw responses instead of summaries
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bp",
	Short: "CLI for blueprintd",
	Long: `bp drives a blueprintd server: start a run from a prompt, approve or
reject parked runs, continue them, validate designs and push repositories.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BLUEPRINT_SERVER", "http://localhost:8080"), "blueprintd server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the raw JSON response")
	rootCmd.AddCommand(runCmd, continueCmd, approveCmd, rejectCmd, approvalCmd, validateCmd, pushCmd, healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check blueprintd server health",
	Long: `Check the health status of the blueprintd HTTP server.

Examples:
  bp health
  bp health --server http://localhost:9090`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status           string `json:"status"`
	ApprovalsPending int    `json:"approvals_pending"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var resp HealthResponse
	raw, err := call(http.MethodGet, "/api/v1/health", nil, &resp, 5*time.Second)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, raw)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	fmt.Fprintf(out, "Approvals Pending: %d\n", resp.ApprovalsPending)
	return nil
}

// apiError is the server's error body.
type apiError struct {
	Message string `json:"message"`
}

// call sends body as JSON to path and decodes a 200 response into out. It
// returns the raw response body for --json.
func call(method, path string, body, out any, timeout time.Duration) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	url := serverURL + path
	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return raw, fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return raw, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return raw, nil
}

func printJSON(cmd *cobra.Command, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return content, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
