package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"genui/internal/logging"
)

var (
	watchData     string
	watchOut      string
	watchEntities []string
	watchDebounce time.Duration
)

// watchCmd re-checks a component file whenever it is saved
var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Re-validate and re-render a component file on every save",
	Long: `Watches a component file and, after every change, runs the gates over it and renders
it against --data. With --out the HTML preview is rewritten after each successful
render, so a browser with auto-reload shows the component as it is edited.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchData, "data", "", "JSON file bound to the data global")
	watchCmd.Flags().StringVar(&watchOut, "out", "", "HTML preview rewritten after each render")
	watchCmd.Flags().StringSliceVar(&watchEntities, "entity", nil, "Key entity the component must mention")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Quiet period before a change is processed")
}

func runWatch(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot watch %s: %w", args[0], err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	// Editors often replace files on save, so the directory is watched instead of the file.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, detailStyle.Render("watching "+path+" (ctrl+c to stop)"))
	checkFile(ctx, out, path)
	return watchLoop(ctx, w, path, watchDebounce, func() { checkFile(ctx, out, path) })
}

// watchLoop calls onChange once per burst of events touching path.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration, onChange func()) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Get(logging.CategoryCLI).Debug("watch: %s %s", ev.Op, ev.Name)
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryCLI).Error("watch error: %v", err)
		case <-timer.C:
			onChange()
		}
	}
}

func checkFile(ctx context.Context, w io.Writer, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Mid-save; the next event will retry.
		fmt.Fprintln(w, warnStyle.Render(err.Error()))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(time.Now().Format("15:04:05")))

	extensions, err := loadExtensions()
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render(err.Error()))
		return
	}
	report := checkComponent(ctx, string(raw), validationContext(watchEntities), extensions)
	printReport(w, report)
	if !report.OK() {
		return
	}

	data, err := loadData(watchData)
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render(err.Error()))
		return
	}
	res, err := renderComponent(ctx, cfg, string(raw), data)
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render(err.Error()))
		return
	}
	if res.Fallback {
		fmt.Fprintln(w, warnStyle.Render("fallback view: "+res.Err.Error()))
	} else {
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("rendered %d nodes", res.Tree.Count())))
	}
	if watchOut != "" {
		if err := writePage(watchOut, filepath.Base(path), res.Tree); err != nil {
			fmt.Fprintln(w, errorStyle.Render(err.Error()))
		}
	}
}
