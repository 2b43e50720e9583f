package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"genui/internal/store"
)

var (
	tracesLimit int
	tracesJSON  bool
)

// tracesCmd inspects stored request traces
var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Inspect stored request and attempt traces",
}

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := openTraces()
		if err != nil {
			return err
		}
		defer ts.Close()

		recent, err := ts.Recent(cmd.Context(), tracesLimit)
		if err != nil {
			return err
		}
		if tracesJSON {
			return writeJSON(cmd.OutOrStdout(), recent)
		}
		w := cmd.OutOrStdout()
		if len(recent) == 0 {
			fmt.Fprintln(w, detailStyle.Render("No requests recorded."))
			return nil
		}
		for _, t := range recent {
			status := okStyle.Render("ok")
			switch {
			case !t.Success:
				status = errorStyle.Render(t.FailureKind)
			case t.Fallback:
				status = warnStyle.Render("fallback")
			}
			fmt.Fprintf(w, "%s  %s  %-10s %d attempt(s)  %s\n",
				detailStyle.Render(t.CreatedAt.Format("2006-01-02 15:04:05")), t.ID, status, t.Attempts, truncatePrompt(t.Prompt, 60))
		}
		return nil
	},
}

var tracesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate request statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := openTraces()
		if err != nil {
			return err
		}
		defer ts.Close()

		s, err := ts.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if tracesJSON {
			return writeJSON(cmd.OutOrStdout(), s)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, field("requests", fmt.Sprint(s.Requests)))
		fmt.Fprintln(w, field("successes", fmt.Sprint(s.Successes)))
		fmt.Fprintln(w, field("failures", fmt.Sprint(s.Failures)))
		fmt.Fprintln(w, field("fallbacks", fmt.Sprint(s.Fallbacks)))
		fmt.Fprintln(w, field("attempts", fmt.Sprintf("%.2f avg", s.AvgAttempts)))
		return nil
	},
}

var tracesShowCmd = &cobra.Command{
	Use:   "show [request-id]",
	Short: "Show the attempts of one request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := openTraces()
		if err != nil {
			return err
		}
		defer ts.Close()

		attempts, err := ts.Attempts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if tracesJSON {
			return writeJSON(cmd.OutOrStdout(), attempts)
		}
		w := cmd.OutOrStdout()
		if len(attempts) == 0 {
			return fmt.Errorf("no attempts recorded for %s", args[0])
		}
		for _, a := range attempts {
			fmt.Fprintf(w, "%s %s %s\n", titleStyle.Render(fmt.Sprintf("#%d", a.Attempt)),
				a.Strategy, detailStyle.Render(fmt.Sprintf("%dms", a.DurationMs)))
			if v := formatVerdicts(a.Verdicts); v != "" {
				fmt.Fprintln(w, "   "+v)
			}
			if a.Error != "" {
				fmt.Fprintln(w, "   "+errorStyle.Render(a.Error))
			}
		}
		return nil
	},
}

func init() {
	tracesCmd.PersistentFlags().BoolVar(&tracesJSON, "json", false, "Print JSON")
	tracesListCmd.Flags().IntVar(&tracesLimit, "limit", 20, "Number of requests to list")
	tracesCmd.AddCommand(tracesListCmd, tracesStatsCmd, tracesShowCmd)
}

func openTraces() (*store.TraceStore, error) {
	if cfg == nil || cfg.Store.Path == "" {
		return nil, fmt.Errorf("no trace store configured")
	}
	return store.Open(cfg.Store.Path)
}

func formatVerdicts(v map[string]string) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+v[k])
	}
	return strings.Join(parts, " ")
}

func truncatePrompt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
