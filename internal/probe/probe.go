package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status captures the readiness condition surfaced by a probe watcher.
type Status string

const (
	// StatusUnknown is used internally to track transitions and is not
	// emitted on the public channel.
	StatusUnknown Status = "unknown"
	// StatusReady indicates that the probe has satisfied the configured
	// success threshold.
	StatusReady Status = "ready"
	// StatusUnready indicates that the probe has exceeded the configured
	// failure threshold.
	StatusUnready Status = "unready"
)

// Event describes a readiness state transition emitted by Watch.
type Event struct {
	Status Status
	Reason string
	Err    error
	At     time.Time
}

// Prober defines the behaviour required by the Watch loop.
type Prober interface {
	Probe(ctx context.Context) error
}

// New constructs an implementation of Prober for the supplied specification.
func New(spec *Spec) (Prober, error) {
	if spec == nil {
		return nil, nil
	}
	var probes []namedProber
	if spec.HTTP != nil {
		probes = append(probes, namedProber{alias: "http", probe: newHTTPProber(spec.HTTP)})
	}
	if spec.TCP != nil {
		probes = append(probes, namedProber{alias: "tcp", probe: newTCPProber(spec.TCP)})
	}
	if spec.Command != nil {
		prober, err := newCommandProber(spec.Command)
		if err != nil {
			return nil, err
		}
		probes = append(probes, namedProber{alias: "cmd", probe: prober})
	}

	switch len(probes) {
	case 0:
		return nil, errors.New("probe: missing configuration")
	case 1:
		return probes[0].probe, nil
	default:
		return &anyProber{terms: probes}, nil
	}
}

// Watch continuously executes the provided prober until the context is
// cancelled. Transitions between ready and unready states are emitted on the
// returned channel. The channel is closed once the context is cancelled.
func Watch(ctx context.Context, prober Prober, spec *Spec, nowFn func() time.Time) <-chan Event {
	events := make(chan Event, 1)
	if ctx == nil {
		close(events)
		return events
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	go func() {
		defer close(events)
		if prober == nil || spec == nil {
			return
		}

		successNeeded := spec.SuccessThreshold
		if successNeeded <= 0 {
			successNeeded = 1
		}
		failureAllowed := spec.FailureThreshold
		if failureAllowed <= 0 {
			failureAllowed = 1
		}

		interval := spec.Interval
		timeout := probeTimeout(spec)

		successes := 0
		failures := 0
		status := StatusUnknown

		for {
			attemptCtx := ctx
			cancel := func() {}
			if timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			}

			err := prober.Probe(attemptCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}

			if err == nil {
				successes++
				failures = 0
				if successes >= successNeeded && status != StatusReady {
					status = StatusReady
					if !sendEvent(ctx, events, Event{Status: StatusReady, At: nowFn()}) {
						return
					}
				}
			} else {
				if attemptCtx.Err() == context.DeadlineExceeded && errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("timeout after %s", timeout)
				}

				successes = 0
				failures++
				if failures >= failureAllowed && status != StatusUnready {
					status = StatusUnready
					event := Event{Status: StatusUnready, Reason: err.Error(), Err: err, At: nowFn()}
					if !sendEvent(ctx, events, event) {
						return
					}
				}
			}

			if interval <= 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
				continue
			}

			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return events
}

func sendEvent(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

func probeTimeout(spec *Spec) time.Duration {
	if spec == nil {
		return 0
	}
	if spec.Command != nil && spec.Command.Timeout > 0 {
		return spec.Command.Timeout
	}
	return spec.Timeout
}

type namedProber struct {
	alias string
	probe Prober
}

// anyProber succeeds as soon as one of its terms succeeds.
type anyProber struct {
	terms []namedProber
}

func (m *anyProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		alias string
		err   error
	}

	results := make(chan result, len(m.terms))
	for _, term := range m.terms {
		go func(alias string, prober Prober) {
			results <- result{alias: alias, err: prober.Probe(ctx)}
		}(term.alias, term.probe)
	}

	var errs []error
	for i := 0; i < len(m.terms); i++ {
		select {
		case <-ctx.Done():
			if len(errs) == 0 {
				return ctx.Err()
			}
			return errors.Join(errs...)
		case res := <-results:
			if res.err == nil {
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", res.alias, res.err))
		}
	}
	return errors.Join(errs...)
}
