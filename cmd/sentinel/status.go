package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/internal/api"
)

var (
	statusAddr    string
	statusAPIKey  string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running sentinel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		resp, err := fetchStatus(ctx, strings.TrimSuffix(statusAddr, "/")+"/proactive/status", statusAPIKey)
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}
		printStatus(resp, cmd.OutOrStdout())
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8080", "base URL of the sentinel API")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", "", "API key sent as X-API-Key")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 3*time.Second, "HTTP request timeout")
	rootCmd.AddCommand(statusCmd)
}

func fetchStatus(ctx context.Context, url, key string) (api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("build request: %w", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("request status: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return api.StatusResponse{}, fmt.Errorf("unexpected status %s: %s", res.Status, strings.TrimSpace(string(body)))
	}

	var status api.StatusResponse
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		return api.StatusResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return status, nil
}

func printStatus(resp api.StatusResponse, w io.Writer) {
	d := resp.Daemon

	state := "STOPPED"
	if d.Running {
		state = "RUNNING"
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Daemon:\t%s\n", state)
	fmt.Fprintf(tw, "Interval:\t%s\n", fallback(d.Interval, "-"))
	fmt.Fprintf(tw, "Cycles:\t%d\n", d.CycleCount)
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(d.StartedAt))
	fmt.Fprintf(tw, "Last cycle:\t%s\n", formatTime(d.LastCycleAt))
	fmt.Fprintf(tw, "Checks:\t%s\n", fallback(strings.Join(d.Checks, ", "), "-"))
	fmt.Fprintf(tw, "Callbacks:\t%s\n", fallback(strings.Join(d.Observers, ", "), "-"))
	if d.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", d.LastError)
	}
	fmt.Fprintf(tw, "Alerts recorded:\t%d\n", resp.AlertsRecorded)
	_ = tw.Flush()
	fmt.Fprint(w, buf.String())

	if len(resp.Actions) == 0 {
		fmt.Fprintln(w, "\nNo actions recorded yet.")
		return
	}

	statuses := make([]string, 0, len(resp.Actions))
	for s := range resp.Actions {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	buf.Reset()
	tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nACTION STATUS\tCOUNT")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", s, resp.Actions[s])
	}
	_ = tw.Flush()
	fmt.Fprint(w, buf.String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func fallback(v, defaultVal string) string {
	if strings.TrimSpace(v) == "" {
		return defaultVal
	}
	return v
}
