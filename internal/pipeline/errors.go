package pipeline

import "fmt"

// FailureKind classifies why a phase failed.
type FailureKind int

const (
	FailureEngine      FailureKind = iota // engine unavailable, erroring or timed out
	FailureExtraction                     // no code unit recoverable from the reply
	FailureValidation                     // a fatal gate rejected the code
	FailureCompilation                    // JSX lowering or program compilation failed
	FailureRuntime                        // the compiled unit threw while rendering
	FailurePlanning                       // the request could not be planned
	FailureData                           // acquired data could not be decoded
)

func (k FailureKind) String() string {
	switch k {
	case FailureEngine:
		return "engine"
	case FailureExtraction:
		return "extraction"
	case FailureValidation:
		return "validation"
	case FailureCompilation:
		return "compilation"
	case FailureRuntime:
		return "runtime"
	case FailurePlanning:
		return "planning"
	case FailureData:
		return "data"
	default:
		return "unknown"
	}
}

// Error is a phase failure. Message is plain language; Feedback, when set, is what the next
// generation attempt is told about the failure.
type Error struct {
	Kind        FailureKind
	Phase       Phase
	Gate        string // failing gate for validation errors
	Message     string
	Feedback    string
	Identifiers []string // unresolved names of a scope failure
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed (%s): %s: %v", e.Phase, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Phase, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another generation attempt may fix the failure. Runtime failures
// are answered by the fallback view instead; planning and data failures end the request.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case FailureEngine, FailureExtraction, FailureValidation, FailureCompilation:
		return e.Phase == PhaseRendering
	default:
		return false
	}
}

// feedback returns the retry prefix for this failure.
func (e *Error) feedback() string {
	if e.Feedback != "" {
		return e.Feedback
	}
	return e.Message
}
