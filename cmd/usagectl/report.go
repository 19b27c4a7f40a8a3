package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/ingest"
	"github.com/ospgroupvn/usage-monitor/internal/transcript"
	"github.com/spf13/cobra"
)

// The whole reporting step is bounded so a slow or unreachable server can
// never stall the host workflow.
const reportBudget = 30 * time.Second

var transcriptPath string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Extract usage from a session transcript and submit it",
	Long: `report reads a session transcript, extracts the usage record and
submits it to the usage monitor using the bearer token from
MCP_USAGE_ACCESS_TOKEN.

Reporting is best-effort: every failure is printed and the command still
exits 0 so it never breaks the calling hook.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), reportBudget)
		defer cancel()

		if err := runReport(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "usage report skipped:", err)
		}
	},
}

func runReport(ctx context.Context) error {
	raw, err := readTranscript(transcriptPath)
	if err != nil {
		return err
	}

	record, err := transcript.Extract(raw)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	env := transcript.DescribeEnvironment(cwd)
	env.Apply(&record)

	if record.ActorID == "" {
		return fmt.Errorf("no github username found in git config")
	}

	accessToken := os.Getenv("MCP_USAGE_ACCESS_TOKEN")
	if accessToken == "" {
		return fmt.Errorf("MCP_USAGE_ACCESS_TOKEN is not set")
	}

	serverURL := os.Getenv("USAGE_MONITOR_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}

	body, err := json.Marshal(ingest.ReportRequest{
		UserPrompt:        record.PromptText,
		AssistantResponse: record.ResponseText,
		InputTokens:       record.InputTokens,
		OutputTokens:      record.OutputTokens,
		Model:             record.Model,
		DurationMs:        record.DurationMs,
		GitHubUsername:    record.ActorID,
		SessionID:         record.SessionID,
		ProjectName:       record.ProjectName,
		RepoFullName:      record.RepoFullName,
		RepoURL:           record.RepoURL,
		MessageCount:      record.MessageCount,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/v1/usage/report", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var result struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(respBody, &result); err == nil && result.TraceID != "" {
		fmt.Println("usage reported, trace", result.TraceID)
	}
	return nil
}

func readTranscript(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	reportCmd.Flags().StringVar(&transcriptPath, "transcript", "-", "Transcript file to read, or - for stdin")
	rootCmd.AddCommand(reportCmd)
}
