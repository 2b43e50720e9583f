package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"genui/internal/logging"
	"genui/internal/pipeline"
	"genui/internal/uitree"
)

var (
	runJSON bool
	runHTML string
	runTUI  bool
)

// runCmd executes a single request
var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Generate, validate and render a component for one request",
	Long: `Processes a natural-language request through the full pipeline:
  1. Planning: classify the request and pick key entities
  2. Acquiring: search the web or ask the engine for the data
  3. Rendering: generate, extract, gate, rewrite and compile (with retries)
  4. Validating: render once in the sandbox, falling back to a data view

Example:
  genui run "What's the weather in Tokyo?" --html tokyo.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the structured response as JSON")
	runCmd.Flags().StringVar(&runHTML, "html", "", "Write an HTML preview of the rendered view to this file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show progress with an interactive spinner")
}

// signalContext returns a context bounded by the global timeout and cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	prompt := strings.Join(args, " ")
	var resp *pipeline.Response
	if runTUI && !runJSON {
		resp, err = runWithSpinner(ctx, a.pipeline, prompt)
		if err != nil {
			return err
		}
	} else {
		var progress pipeline.ProgressFunc
		if !runJSON {
			progress = progressPrinter(os.Stderr)
		}
		resp = a.pipeline.Run(ctx, prompt, progress)
	}

	if runHTML != "" {
		if err := writePreview(runHTML, prompt, resp); err != nil {
			return err
		}
	}
	if runJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	if !resp.OK() {
		return fmt.Errorf("request failed")
	}
	return nil
}

// progressPrinter writes one line per progress event.
func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	return func(ev pipeline.ProgressEvent) {
		switch ev.Kind {
		case pipeline.EventPhase:
			line := phaseStyle.Render("› " + ev.Name)
			if ev.Detail != "" {
				line += " " + detailStyle.Render(ev.Detail)
			}
			if ev.Error {
				line = errorStyle.Render("✗ " + ev.Name + " " + ev.Detail)
			}
			fmt.Fprintln(w, line)
		case pipeline.EventRetrying:
			fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  ↻ attempt %d: %s", ev.Attempt+1, ev.Detail)))
		case pipeline.EventDetail:
			if ev.Detail != "writing" {
				fmt.Fprintln(w, detailStyle.Render("  · "+ev.Detail))
			}
		}
	}
}

func printResponse(w io.Writer, resp *pipeline.Response) {
	if !resp.OK() {
		f := resp.Failure()
		fmt.Fprintln(w, errorStyle.Render(f.TextResponse))
		if f.Fallback != nil {
			fmt.Fprintln(w, detailStyle.Render("A data view is available with --html."))
		}
		return
	}

	s := resp.Success()
	lines := []string{
		titleStyle.Render(s.Summary),
		field("request", resp.RequestID),
		field("attempts", fmt.Sprint(resp.Attempts)),
	}
	if s.Source != nil {
		lines = append(lines, field("source", *s.Source))
	}
	if s.Fallback {
		lines = append(lines, field("render", warnStyle.Render("fallback view: "+s.RenderError)))
	} else if s.Rendered != nil {
		lines = append(lines, field("render", okStyle.Render(fmt.Sprintf("%d nodes", s.Rendered.Count()))))
	}
	if resp.Critique != nil {
		lines = append(lines, field("critique", fmt.Sprintf("%d/100 %s", resp.Critique.Score, resp.Critique.Summary)))
	}
	fmt.Fprintln(w, summaryStyle.Render(strings.Join(lines, "\n")))
	fmt.Fprint(w, renderMarkdown("```jsx\n"+s.ComponentCode+"\n```\n"))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePreview writes the rendered tree, the fallback view, or nothing when neither exists.
func writePreview(path, title string, resp *pipeline.Response) error {
	var tree *uitree.Node
	if resp.OK() {
		tree = resp.Success().Rendered
	} else {
		tree = resp.Failure().Fallback
	}
	if tree == nil {
		logging.Get(logging.CategoryCLI).Warn("no view to preview for %s", path)
		return nil
	}
	return writePage(path, title, tree)
}

func writePage(path, title string, tree *uitree.Node) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create preview directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preview: %w", err)
	}
	defer f.Close()
	if err := uitree.Page(f, title, tree); err != nil {
		return err
	}
	return f.Close()
}
