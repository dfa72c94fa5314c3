package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/repository"
	"github.com/xiaot623/gogo/observability/internal/summary"
)

// executeSummarize prints the counters of a (run, agent) pair read straight
// from the database. Nothing is written.
func executeSummarize(ctx context.Context, st store.Store, runID, agentID string, w io.Writer) error {
	stats, err := summary.New(st).Stats(ctx, runID, agentID)
	if err != nil {
		return err
	}
	if stats.TotalEvents == 0 {
		return fmt.Errorf("no events for run %q agent %q", runID, agentID)
	}
	fmt.Fprintln(w, summary.Sentence(stats))

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// requestSummary asks the server at serverURL to store the run.summary
// event. Writes go through the server so they share its ordering, the
// summary existence check and the live stream.
func requestSummary(ctx context.Context, client *http.Client, serverURL, runID, agentID string, w io.Writer) error {
	u := strings.TrimSuffix(serverURL, "/") + "/runs/" + url.PathEscape(runID) + "/summary"
	if agentID != "" {
		u += "?" + url.Values{"agent_id": {agentID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var verb string
	switch resp.StatusCode {
	case http.StatusCreated:
		verb = "stored"
	case http.StatusOK:
		verb = "existing"
	default:
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	fmt.Fprintf(w, "%s %s\n", verb, ev.EventID)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&ev)
}

func newSummarizeCmd(configPath *string) *cobra.Command {
	var runID, agentID, serverURL string
	var persist bool

	summarizeCmd := &cobra.Command{
		Use:   "summarize",
		Short: "roll up the events of one run and agent",
		Long: "Without --store the counters are read from the database and printed.\n" +
			"With --store the running server at --server stores the run.summary event.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if persist {
				client := &http.Client{Timeout: 30 * time.Second}
				return requestSummary(cmd.Context(), client, serverURL, runID, agentID, os.Stdout)
			}
			_, db, err := loadStore(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return executeSummarize(cmd.Context(), db, runID, agentID, os.Stdout)
		},
	}
	summarizeCmd.Flags().StringVar(&runID, "run", "", "run id")
	summarizeCmd.Flags().StringVar(&agentID, "agent", "", "agent id (empty selects events without one)")
	summarizeCmd.Flags().BoolVar(&persist, "store", false, "have the server store the run.summary event")
	summarizeCmd.Flags().StringVar(&serverURL, "server", "http://localhost:4000", "server base URL used with --store")
	_ = summarizeCmd.MarkFlagRequired("run")

	return summarizeCmd
}
