package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Step is one scripted reply.
type Step struct {
	// Match, when set, must be a substring of the prompt for the step to be used.
	Match  string
	Notes  []Event // non-terminal events sent before the reply
	Text   string
	Fail   string        // sent as an error event instead of a result
	Delay  time.Duration // wait before replying
	Repeat bool          // keep the step after it is used
}

// ScriptedEngine replays canned replies in order. It records every request it receives.
type ScriptedEngine struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
}

// NewScriptedEngine returns an engine that replays steps.
func NewScriptedEngine(steps ...Step) *ScriptedEngine {
	return &ScriptedEngine{steps: steps}
}

// Name implements Engine.
func (s *ScriptedEngine) Name() string { return "scripted" }

// Add appends steps.
func (s *ScriptedEngine) Add(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Requests returns the requests received so far.
func (s *ScriptedEngine) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many steps are left.
func (s *ScriptedEngine) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func (s *ScriptedEngine) next(req Request) (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	for i, st := range s.steps {
		if st.Match != "" && !strings.Contains(req.Prompt, st.Match) {
			continue
		}
		if !st.Repeat {
			s.steps = append(s.steps[:i:i], s.steps[i+1:]...)
		}
		return st, true
	}
	return Step{}, false
}

// Stream implements Engine.
func (s *ScriptedEngine) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	st, ok := s.next(req)
	if !ok {
		return nil, fmt.Errorf("no scripted reply for prompt %q", truncate(req.Prompt, 80))
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		start := time.Now()
		for _, ev := range st.Notes {
			if !send(ctx, out, ev) {
				return
			}
		}
		if st.Delay > 0 {
			t := time.NewTimer(st.Delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		if st.Fail != "" {
			send(ctx, out, Event{Type: EventError, Error: st.Fail})
			return
		}
		send(ctx, out, Event{Type: EventResult, FinalText: st.Text, DurationMs: time.Since(start).Milliseconds()})
	}()
	return out, nil
}
