// Package engine defines the contract with the external generation engine and its adapters.
//
// An engine streams Events for one Request. The stream always ends with exactly one terminal
// event (EventResult or EventError) and is then closed. Adapters stop sending as soon as the
// request context is done.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genui/internal/logging"
)

// EventType identifies a stream event.
type EventType string

const (
	EventProgress        EventType = "progress"
	EventToolCallStarted EventType = "tool_call_started"
	EventTextChunk       EventType = "text_chunk"
	EventResult          EventType = "result"
	EventError           EventType = "error"
)

// Event is one message from an engine stream. Only the fields of its Type are set.
type Event struct {
	Type       EventType `json:"type"`
	Message    string    `json:"message,omitempty"`    // progress
	Tool       string    `json:"tool,omitempty"`       // tool_call_started
	Text       string    `json:"text,omitempty"`       // text_chunk
	FinalText  string    `json:"finalText,omitempty"`  // result
	DurationMs int64     `json:"durationMs,omitempty"` // result
	Error      string    `json:"error,omitempty"`      // error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Request is a single generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	// ForceExecutionAllowed lets the engine use its own tools (web access, code execution)
	// without asking. Data acquisition sets it.
	ForceExecutionAllowed bool
	Debug                 bool
}

// Engine produces text for a prompt as a stream of events.
type Engine interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// TimeoutError means the engine did not finish within the allotted time.
type TimeoutError struct {
	Engine string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s engine timed out after %v", e.Engine, e.After)
}

// FailureError means the engine reported a failure or the stream ended without a result.
type FailureError struct {
	Engine      string
	Message     string
	RateLimited bool
	Err         error
}

func (e *FailureError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s engine rate limited: %s", e.Engine, e.Message)
	}
	return fmt.Sprintf("%s engine failed: %s", e.Engine, e.Message)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Result is the final text of a completed stream.
type Result struct {
	Text     string
	Duration time.Duration
	// Chunks counts the text chunks that preceded the result.
	Chunks int
}

// NoticeFunc receives non-terminal events as they arrive.
type NoticeFunc func(Event)

// Await runs req and waits for the terminal event. Non-terminal events are passed to notice,
// which may be nil. Exceeding timeout, or the parent context ending, is a TimeoutError.
func Await(ctx context.Context, e Engine, req Request, timeout time.Duration, notice NoticeFunc) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := logging.StartTimer(logging.CategoryEngine, e.Name()+" request")
	events, err := e.Stream(ctx, req)
	if err != nil {
		return nil, &FailureError{Engine: e.Name(), Message: err.Error(), Err: err}
	}

	chunks := 0
	var streamed strings.Builder
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.EngineWarn("%s request abandoned: %v", e.Name(), ctx.Err())
			return nil, &TimeoutError{Engine: e.Name(), After: timeout}
		case ev, ok := <-events:
			if !ok {
				timer.Stop()
				if ctx.Err() != nil {
					return nil, &TimeoutError{Engine: e.Name(), After: timeout}
				}
				return nil, &FailureError{Engine: e.Name(), Message: "stream ended without a result"}
			}
			switch ev.Type {
			case EventResult:
				elapsed := timer.Stop()
				text := ev.FinalText
				if text == "" {
					text = streamed.String()
				}
				if ev.DurationMs > 0 {
					elapsed = time.Duration(ev.DurationMs) * time.Millisecond
				}
				return &Result{Text: text, Duration: elapsed, Chunks: chunks}, nil
			case EventError:
				timer.Stop()
				return nil, &FailureError{Engine: e.Name(), Message: ev.Error, RateLimited: isRateLimit(ev.Error)}
			case EventTextChunk:
				chunks++
				streamed.WriteString(ev.Text)
			}
			if notice != nil {
				notice(ev)
			}
		}
	}
}

// IsTimeout reports whether err is an engine timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func isRateLimit(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "429") || strings.Contains(lower, "resource_exhausted")
}

// send delivers ev unless ctx ends first. It reports whether the event was delivered.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
