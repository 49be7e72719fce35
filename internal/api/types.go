package api

import (
	stdcontext "context"
	"errors"
	"time"
)

// ErrShuttingDown reports that a shutdown was already under way.
var ErrShuttingDown = errors.New("shutdown already in progress")

// ChildReport describes the runtime state of a single child.
type ChildReport struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Required bool   `json:"required"`
	Alive    bool   `json:"alive"`
	State    string `json:"state"`
	Code     *int   `json:"code,omitempty"`
}

// StatusReport aggregates supervisor-wide status information.
type StatusReport struct {
	Launcher    string        `json:"launcher"`
	Session     string        `json:"session"`
	Phase       string        `json:"phase"`
	Reason      string        `json:"reason,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
	Children    []ChildReport `json:"children"`
}

// ShutdownResult captures the outcome of a shutdown request.
type ShutdownResult struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Controller exposes the supervisor operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Shutdown(stdcontext.Context, string) (*ShutdownResult, error)
}
