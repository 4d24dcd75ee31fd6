// Package provider defines the capability interface for asynchronous
// media-generation vendors and its concrete implementations. Orchestration
// code depends only on Client, never on a vendor's wire format.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// JobState is the vendor-side lifecycle of a submitted job.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// JobRef identifies a job on the vendor side.
type JobRef string

// GenerationSpec is the provider-agnostic description of one video job.
type GenerationSpec struct {
	Model    string
	Prompt   string
	ImageURL string
	Duration int
}

// Status is a normalized snapshot of a vendor job. A failed state here is a
// terminal provider-reported failure, not a transport error.
type Status struct {
	State     JobState
	ResultURL string
	Message   string
}

// Client submits a generation job and observes it to completion.
//
// Submit performs exactly one outbound call; any fault surfaces as a
// *SubmitError with no internal retry. Poll absorbs transient transport
// faults (network errors, 5xx) up to a small fixed retry budget; exhausting
// that budget yields a *PollError, which callers treat as non-terminal and
// may poll again later.
type Client interface {
	Submit(ctx context.Context, spec GenerationSpec) (JobRef, error)
	Poll(ctx context.Context, ref JobRef) (*Status, error)
}

// NewVideoClient constructs the video-generation client named by
// configuration. DashScope is the only vendor wired today; the name switch is
// the seam a second vendor plugs into.
func NewVideoClient(name string, opts DashScopeOptions) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dashscope":
		return NewDashScope(opts)
	default:
		return nil, fmt.Errorf("unknown video provider %q", name)
	}
}

// SubmitError wraps a failed submission call.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("provider submit: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }

// PollError wraps a failed status check. Permanent marks faults that
// repeating the same request cannot fix (a client-class HTTP rejection such
// as an unknown task id); callers should settle the task instead of waiting
// out the polling budget.
type PollError struct {
	Err       error
	Permanent bool
}

func (e *PollError) Error() string { return fmt.Sprintf("provider poll: %v", e.Err) }
func (e *PollError) Unwrap() error { return e.Err }
