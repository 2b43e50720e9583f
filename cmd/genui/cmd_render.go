package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"genui/internal/config"
	"genui/internal/extract"
	"genui/internal/fallback"
	"genui/internal/logging"
	"genui/internal/sandbox"
	"genui/internal/transform"
	"genui/internal/uitree"
)

var (
	renderData string
	renderOut  string
)

// renderCmd renders a component file in the sandbox
var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Compile and render a component file against some data",
	Long: `Compiles a component (or an engine reply containing one), renders it once in the
sandbox and prints the resulting tree as JSON. With --out the tree is written as an
HTML preview instead. A component that throws is answered with the data view.

Example:
  genui render weather.jsx --data weather.json --out weather.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderData, "data", "", "JSON file bound to the data global")
	renderCmd.Flags().StringVar(&renderOut, "out", "", "Write an HTML preview to this file")
}

// renderOutcome is what one offline render produced.
type renderOutcome struct {
	Tree     *uitree.Node
	Fallback bool
	Err      error
}

func loadData(path string) (any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse data %s: %w", path, err)
	}
	return data, nil
}

// renderComponent extracts, rewrites, compiles and renders raw. Compile errors are
// returned; runtime errors produce the data view.
func renderComponent(ctx context.Context, c *config.Config, raw string, data any) (*renderOutcome, error) {
	ex := extract.New(c.Pipeline.Anchor).Extract(raw)
	if !ex.OK() {
		return nil, fmt.Errorf("no component found (%s)", ex.Diagnostics)
	}
	ev, err := newEvaluator(c)
	if err != nil {
		return nil, err
	}
	unit, err := ev.Compile(transform.Apply(ex.Code).Code)
	if err != nil {
		return nil, err
	}
	res, err := ev.Render(ctx, unit, data)
	if err == nil {
		return &renderOutcome{Tree: res.Tree}, nil
	}
	var rerr *sandbox.RuntimeError
	if !errors.As(err, &rerr) {
		return nil, err
	}
	logging.Get(logging.CategoryCLI).Warn("component failed while rendering: %v", err)
	fb := fallback.New(fallback.Options{MaxDepth: c.Fallback.MaxDepth, MaxItems: c.Fallback.MaxItems})
	return &renderOutcome{
		Tree:     fb.View("Data", "The component failed while rendering.", data),
		Fallback: true,
		Err:      err,
	}, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	data, err := loadData(renderData)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	out, err := renderComponent(ctx, cfg, raw, data)
	if err != nil {
		return err
	}
	if out.Fallback {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("fallback view: "+out.Err.Error()))
	}
	if renderOut != "" {
		if err := writePage(renderOut, args[0], out.Tree); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), okStyle.Render(fmt.Sprintf("wrote %s (%d nodes)", renderOut, out.Tree.Count())))
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), out.Tree)
}
