package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"genui/internal/logging"
)

// CLIEngine runs a command line agent that reads the prompt on stdin and writes stream-json
// lines on stdout.
type CLIEngine struct {
	Command string
	Args    []string
	Model   string
	// ExecutionArgs are appended when a request sets ForceExecutionAllowed.
	ExecutionArgs []string
}

// NewCLIEngine returns an engine for the claude CLI, or another binary with the same output.
func NewCLIEngine(command, model string, extra []string) *CLIEngine {
	if command == "" {
		command = "claude"
	}
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	args = append(args, extra...)
	return &CLIEngine{
		Command:       command,
		Args:          args,
		Model:         model,
		ExecutionArgs: []string{"--allowedTools", "WebSearch,WebFetch"},
	}
}

// Name implements Engine.
func (c *CLIEngine) Name() string { return "cli" }

// cliLine is one stream-json record.
type cliLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

// Stream implements Engine. The subprocess is killed when ctx ends.
func (c *CLIEngine) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	args := append([]string{}, c.Args...)
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.ForceExecutionAllowed {
		args = append(args, c.ExecutionArgs...)
	}

	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stdin = strings.NewReader(combinePrompt(req.SystemPrompt, req.Prompt))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stdout: %w", c.Command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Command, err)
	}
	if req.Debug {
		logging.EngineDebug("started %s %s", c.Command, strings.Join(args, " "))
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		start := time.Now()
		terminal := false

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			for _, ev := range parseCLILine(line) {
				if terminal {
					break
				}
				if ev.Type == EventResult && ev.DurationMs == 0 {
					ev.DurationMs = time.Since(start).Milliseconds()
				}
				if !send(ctx, out, ev) {
					_ = cmd.Wait()
					return
				}
				terminal = ev.Terminal()
			}
		}
		if err := scanner.Err(); err != nil {
			logging.EngineWarn("%s output unreadable: %v", c.Command, err)
		}
		waitErr := cmd.Wait()
		if terminal {
			return
		}

		msg := "process exited without a result"
		switch {
		case ctx.Err() != nil:
			return
		case waitErr != nil:
			msg = fmt.Sprintf("%v (stderr: %s)", waitErr, truncate(stderr.String(), 500))
		}
		send(ctx, out, Event{Type: EventError, Error: msg})
	}()
	return out, nil
}

// parseCLILine converts one stream-json record into zero or more events. Lines that are not
// JSON are passed on as progress.
func parseCLILine(line []byte) []Event {
	var rec cliLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return []Event{{Type: EventProgress, Message: truncate(string(line), 200)}}
	}
	switch rec.Type {
	case "system":
		return []Event{{Type: EventProgress, Message: strings.TrimSpace("session " + rec.Subtype)}}
	case "assistant":
		if rec.Message == nil {
			return nil
		}
		var events []Event
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, Event{Type: EventTextChunk, Text: block.Text})
				}
			case "tool_use":
				events = append(events, Event{Type: EventToolCallStarted, Tool: block.Name})
			}
		}
		return events
	case "result":
		if rec.IsError || (rec.Subtype != "" && rec.Subtype != "success") {
			msg := rec.Error
			if msg == "" {
				msg = rec.Result
			}
			if msg == "" {
				msg = rec.Subtype
			}
			return []Event{{Type: EventError, Error: msg}}
		}
		return []Event{{Type: EventResult, FinalText: rec.Result, DurationMs: rec.DurationMs}}
	case "error":
		return []Event{{Type: EventError, Error: rec.Error}}
	}
	return nil
}

func combinePrompt(system, user string) string {
	if strings.TrimSpace(system) == "" {
		return user
	}
	return fmt.Sprintf("[System Instructions]\n%s\n\n[User Request]\n%s", system, user)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ErrNoCommand is returned by LookPath when the CLI binary is missing.
var ErrNoCommand = errors.New("engine command not found")

// LookPath verifies the configured command exists.
func (c *CLIEngine) LookPath() error {
	if _, err := exec.LookPath(c.Command); err != nil {
		return fmt.Errorf("%w: %s", ErrNoCommand, c.Command)
	}
	return nil
}
