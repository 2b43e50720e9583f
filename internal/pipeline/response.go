package pipeline

import (
	"encoding/json"

	"genui/internal/uitree"
)

// Success is a delivered component.
type Success struct {
	ComponentCode string       `json:"componentCode"`
	Summary       string       `json:"summary"`
	Source        *string      `json:"source"`
	Data          any          `json:"data"`
	Rendered      *uitree.Node `json:"rendered,omitempty"`

	// Fallback is set when the component threw while rendering and Rendered holds the
	// generic data view instead.
	Fallback    bool   `json:"fallback,omitempty"`
	RenderError string `json:"renderError,omitempty"`
}

// Failure is a plain-language answer given when no component could be delivered.
type Failure struct {
	TextResponse string       `json:"textResponse"`
	Error        bool         `json:"error"`
	Fallback     *uitree.Node `json:"fallback,omitempty"`
}

// Response holds exactly one of Success or Failure. Use the constructors.
type Response struct {
	success *Success
	failure *Failure

	RequestID string       `json:"-"`
	Plan      *Plan        `json:"-"`
	Critique  *Critique    `json:"-"`
	Attempts  int          `json:"-"`
	Kind      *FailureKind `json:"-"`
}

// NewSuccess wraps s.
func NewSuccess(s Success) *Response { return &Response{success: &s} }

// NewFailure builds a failure with the given message and optional fallback view.
func NewFailure(message string, fallback *uitree.Node) *Response {
	return &Response{failure: &Failure{TextResponse: message, Error: true, Fallback: fallback}}
}

// OK reports whether the response is a success.
func (r *Response) OK() bool { return r.success != nil }

// Success returns the success payload, or nil.
func (r *Response) Success() *Success { return r.success }

// Failure returns the failure payload, or nil.
func (r *Response) Failure() *Failure { return r.failure }

// MarshalJSON flattens the populated variant.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.success != nil {
		return json.Marshal(r.success)
	}
	if r.failure != nil {
		return json.Marshal(r.failure)
	}
	return json.Marshal(Failure{TextResponse: "no response", Error: true})
}

// UnmarshalJSON accepts either flattened variant.
func (r *Response) UnmarshalJSON(b []byte) error {
	var variant struct {
		Error bool `json:"error"`
	}
	if err := json.Unmarshal(b, &variant); err != nil {
		return err
	}
	if variant.Error {
		var f Failure
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		r.success, r.failure = nil, &f
		return nil
	}
	var s Success
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	r.success, r.failure = &s, nil
	return nil
}

// Text returns the component code or the failure message.
func (r *Response) Text() string {
	if r.success != nil {
		return r.success.ComponentCode
	}
	if r.failure != nil {
		return r.failure.TextResponse
	}
	return ""
}
