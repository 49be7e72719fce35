package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned by WaitReady when the deadline passes before the
// first successful probe.
var ErrNotReady = errors.New("not ready")

// WaitReady blocks until the spec reports ready for the first time, the
// timeout elapses or ctx is cancelled. Unready transitions before the first
// ready are not fatal; the probe keeps retrying until the deadline. The
// returned error wraps ErrNotReady with the last failure reason on timeout.
func WaitReady(ctx context.Context, spec *Spec, timeout time.Duration) error {
	if spec == nil {
		return nil
	}
	prober, err := New(spec)
	if err != nil {
		return err
	}

	waitCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	watchCtx, stopWatch := context.WithCancel(waitCtx)
	defer stopWatch()

	var lastReason string
	events := Watch(watchCtx, prober, spec, nil)
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if lastReason != "" {
				return fmt.Errorf("%w after %s: %s", ErrNotReady, timeout, lastReason)
			}
			return fmt.Errorf("%w after %s", ErrNotReady, timeout)
		case evt, ok := <-events:
			if !ok {
				// Watch only closes once waitCtx is done; loop to report why.
				events = nil
				continue
			}
			switch evt.Status {
			case StatusReady:
				return nil
			case StatusUnready:
				lastReason = evt.Reason
			}
		}
	}
}
