package engine

import "time"

// EventKind identifies an engine event.
type EventKind int

const (
	EventPhaseStarted EventKind = iota + 1
	EventPhaseFinished
	EventRunPaused
	EventRunCompleted
	EventRunFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPhaseStarted:
		return "phase_started"
	case EventPhaseFinished:
		return "phase_finished"
	case EventRunPaused:
		return "run_paused"
	case EventRunCompleted:
		return "run_completed"
	case EventRunFailed:
		return "run_failed"
	default:
		return "unknown"
	}
}

// Event is reported to observers as a run progresses.
type Event struct {
	Kind       EventKind
	RunID      string
	Phase      string
	Step       int
	Duration   time.Duration
	ApprovalID string
	Err        error
}

// Observer receives engine events synchronously on the run's goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }
