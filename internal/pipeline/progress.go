package pipeline

import (
	"sync"
	"time"

	"genui/internal/engine"
)

// Phase is a stage of the pipeline. Phases are strictly ordered.
type Phase int

const (
	PhaseNone Phase = iota
	PhasePlanning
	PhaseAcquiring
	PhaseRendering
	PhaseValidating
	PhaseCritiquing
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseAcquiring:
		return "acquiring"
	case PhaseRendering:
		return "rendering"
	case PhaseValidating:
		return "validating"
	case PhaseCritiquing:
		return "critiquing"
	case PhaseComplete:
		return "complete"
	default:
		return "none"
	}
}

// EventKind distinguishes progress notifications.
type EventKind string

const (
	EventPhase    EventKind = "phase"    // a phase was entered
	EventRetrying EventKind = "retrying" // the rendering loop starts another attempt
	EventDetail   EventKind = "detail"   // engine notice; never changes the phase
)

// ProgressEvent is one notification for the presentation layer.
type ProgressEvent struct {
	Kind    EventKind `json:"kind"`
	Phase   Phase     `json:"-"`
	Name    string    `json:"phase"`
	Detail  string    `json:"detail,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Error   bool      `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// ProgressFunc receives progress events. It is called synchronously from the pipeline.
type ProgressFunc func(ProgressEvent)

// ProgressTracker enforces monotonic phase emission: every phase is announced at most once
// and never after a later one. Only retrying notices repeat, once per new attempt.
type ProgressTracker struct {
	mu          sync.Mutex
	sink        ProgressFunc
	current     Phase
	lastAttempt int
	events      []ProgressEvent
}

// NewProgressTracker returns a tracker that forwards to sink, which may be nil.
func NewProgressTracker(sink ProgressFunc) *ProgressTracker {
	return &ProgressTracker{sink: sink}
}

// Enter announces phase. It reports false, and emits nothing, when phase is not after the
// current phase.
func (t *ProgressTracker) Enter(phase Phase, detail string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if phase <= t.current {
		return false
	}
	t.current = phase
	t.emit(ProgressEvent{Kind: EventPhase, Phase: phase, Detail: detail})
	return true
}

// Retrying announces a new rendering attempt. Attempts must increase.
func (t *ProgressTracker) Retrying(attempt int, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != PhaseRendering || attempt <= t.lastAttempt {
		return false
	}
	t.lastAttempt = attempt
	t.emit(ProgressEvent{Kind: EventRetrying, Phase: PhaseRendering, Detail: reason, Attempt: attempt})
	return true
}

// Detail forwards an engine notice under the current phase.
func (t *ProgressTracker) Detail(ev engine.Event) {
	var detail string
	switch ev.Type {
	case engine.EventProgress:
		detail = ev.Message
	case engine.EventToolCallStarted:
		detail = "tool: " + ev.Tool
	case engine.EventTextChunk:
		detail = "writing"
	default:
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == PhaseNone || t.current == PhaseComplete {
		return
	}
	t.emit(ProgressEvent{Kind: EventDetail, Phase: t.current, Detail: detail})
}

// Complete announces the terminal phase once.
func (t *ProgressTracker) Complete(failed bool, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == PhaseComplete {
		return false
	}
	t.current = PhaseComplete
	t.emit(ProgressEvent{Kind: EventPhase, Phase: PhaseComplete, Detail: message, Error: failed})
	return true
}

// Current returns the latest phase.
func (t *ProgressTracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Events returns everything emitted so far.
func (t *ProgressTracker) Events() []ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ProgressEvent(nil), t.events...)
}

func (t *ProgressTracker) emit(ev ProgressEvent) {
	ev.Name = ev.Phase.String()
	ev.At = time.Now()
	t.events = append(t.events, ev)
	if t.sink != nil {
		t.sink(ev)
	}
}
