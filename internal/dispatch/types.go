package dispatch

import (
	"context"
	"time"

	"pacer/internal/action"
	"pacer/internal/pacing"
)

// Kind distinguishes one-shot jobs from recurring ones.
type Kind int

const (
	OneTime Kind = iota
	Recurring
)

func (k Kind) String() string {
	if k == Recurring {
		return "recurring"
	}
	return "one_time"
}

// Job is one firing handed to the Dispatcher.
type Job struct {
	ID      string
	Name    string
	Kind    Kind
	Options action.Options

	// Stopped is closed when the job is cancelled. A nil channel never closes.
	Stopped <-chan struct{}
}

// IsStopped reports whether the job was cancelled.
func (j Job) IsStopped() bool {
	if j.Stopped == nil {
		return false
	}
	select {
	case <-j.Stopped:
		return true
	default:
		return false
	}
}

type Status int

const (
	// Skipped firings were held back by pacing and did not run.
	Skipped Status = iota
	// Attempted firings ran the action, successfully or not.
	Attempted
	// Idle firings ran but the action reported an empty queue.
	Idle
	// Rejected firings could not be resolved to an action.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Attempted:
		return "attempted"
	case Idle:
		return "idle"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of one firing.
type Outcome struct {
	Status  Status
	Reason  string
	Success bool
	Err     error
	Result  action.Result

	// Deregister asks the scheduler to drop the recurring job.
	Deregister bool
	Duration   time.Duration
}

// Pacer is the pacing gate consulted before each firing.
type Pacer interface {
	ShouldSimulateOutage() bool
	SimulateOutage() time.Duration
	ShouldTakeBreak() bool
	TakeBreak() time.Duration
	ShouldTakeDistraction() bool
	TakeDistraction() time.Duration
	CanProceed() bool
	State() pacing.State
	EnterCooldown(reason string)
	RecordOutcome(attempted bool)
}

// Handler is implemented by Dispatcher; the scheduler depends on this.
type Handler interface {
	Handle(ctx context.Context, job Job) Outcome
}

// OutcomeEvent is the bus payload for action.* events.
type OutcomeEvent struct {
	JobID    string        `json:"job_id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Target   string        `json:"target,omitempty"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
}
