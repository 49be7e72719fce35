package engine

import (
	"sync"
	"time"
)

// EventType captures the lifecycle notifications emitted by the supervisor.
// Every child or supervisor state transition produces exactly one event.
type EventType string

const (
	EventTypeDiagnostic       EventType = "diagnostic"
	EventTypeSpawned          EventType = "spawned"
	EventTypeSkipped          EventType = "skipped"
	EventTypeReady            EventType = "ready"
	EventTypeUnready          EventType = "unready"
	EventTypeRunning          EventType = "running"
	EventTypeExited           EventType = "exited"
	EventTypeStopping         EventType = "stopping"
	EventTypeKilled           EventType = "killed"
	EventTypeShutdown         EventType = "shutdown"
	EventTypeShutdownComplete EventType = "shutdown_complete"
	EventTypeError            EventType = "error"
	EventTypeLog              EventType = "log"
)

// Event represents a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Child     string
	PID       int
	Type      EventType
	Message   string
	Level     string
	Code      int
	State     string
	Reason    string
	Source    string
	Err       error
}

const (
	ReasonStartup          = "startup"
	ReasonStartupFailure   = "startup_failure"
	ReasonMissingRequired  = "missing_required"
	ReasonDependency       = "dependency"
	ReasonUnexpectedExit   = "unexpected_exit"
	ReasonShutdown         = "shutdown"
	ReasonGraceExpired     = "grace_expired"
	ReasonStopFailed       = "stop_failed"
	ReasonKillFailed       = "kill_failed"
	ReasonExit             = "exit"
	ReasonCrash            = "crash"
	ReasonContextCancelled = "context_cancelled"
)

// Reporter receives lifecycle events. Implementations must be safe for
// concurrent use: teardown of several children reports in parallel, and the
// shutdown sequence may run on a signal-handling goroutine.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

// Report calls f(evt).
func (f ReporterFunc) Report(evt Event) { f(evt) }

type discardReporter struct{}

func (discardReporter) Report(Event) {}

// Recorder is a Reporter that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Report(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// NewDiagnostic returns a diagnostic event carrying message. Diagnostics are
// informational output that is not a lifecycle transition.
func NewDiagnostic(level, message string) Event {
	return newEvent("", 0, EventTypeDiagnostic, level, message)
}

func newEvent(child string, pid int, t EventType, level, message string) Event {
	if level == "" {
		level = "info"
	}
	return Event{
		Timestamp: time.Now(),
		Child:     child,
		PID:       pid,
		Type:      t,
		Message:   message,
		Level:     level,
	}
}
