package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"genui/internal/logging"
	"genui/internal/pipeline"
)

var batchConcurrency int

// batchCmd runs many requests concurrently
var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run one request per line of a file and print JSON lines",
	Long: `Reads requests from a file (or stdin when the file is "-"), one per line, and runs
them concurrently. Blank lines and lines starting with # are skipped. Each result is
printed as one JSON object per line in completion order.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "Maximum requests in flight")
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	Line      int                `json:"line"`
	Prompt    string             `json:"prompt"`
	RequestID string             `json:"requestId"`
	Attempts  int                `json:"attempts"`
	Response  *pipeline.Response `json:"response"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		in = f
	}
	prompts, err := readPrompts(in)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No requests found.")
		return nil
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	failed, err := runPrompts(ctx, a.pipeline, prompts, batchConcurrency, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), field("requests", fmt.Sprint(len(prompts)))+"  "+field("failed", fmt.Sprint(failed)))
	return nil
}

type numberedPrompt struct {
	line int
	text string
}

func readPrompts(r io.Reader) ([]numberedPrompt, error) {
	var out []numberedPrompt
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, numberedPrompt{line: n, text: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return out, nil
}

// runPrompts runs every prompt with at most limit in flight and returns how many failed.
// Request failures are reported in the output, not as errors.
func runPrompts(ctx context.Context, p *pipeline.Pipeline, prompts []numberedPrompt, limit int, w io.Writer) (int, error) {
	if limit < 1 {
		limit = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var (
		mu     sync.Mutex
		enc    = json.NewEncoder(w)
		failed atomic.Int64
	)
	for _, np := range prompts {
		g.Go(func() error {
			resp := p.Run(ctx, np.text, nil)
			if !resp.OK() {
				failed.Add(1)
			}
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(batchLine{Line: np.line, Prompt: np.text, RequestID: resp.RequestID, Attempts: resp.Attempts, Response: resp}); err != nil {
				return fmt.Errorf("failed to write result for line %d: %w", np.line, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(failed.Load()), err
	}
	logging.Get(logging.CategoryCLI).Info("batch finished: %d requests, %d failed", len(prompts), failed.Load())
	return int(failed.Load()), nil
}
