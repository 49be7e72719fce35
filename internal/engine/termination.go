package engine

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
)

// Trigger is the part of the supervisor a termination source drives.
type Trigger interface {
	Shutdown(reason string) bool
	Done() <-chan struct{}
}

// TerminationSource turns an external termination request into a Shutdown
// call. Install returns a function that removes the source again.
type TerminationSource interface {
	Install(Trigger) (stop func(), err error)
}

// InstallSources installs every source and returns a function removing all of
// them. When one source fails the ones installed so far are removed.
func InstallSources(t Trigger, sources ...TerminationSource) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	for _, src := range sources {
		stop, err := src.Install(t)
		if err != nil {
			stopAll()
			return nil, err
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}
	return stopAll, nil
}

// SignalSource triggers shutdown on delivery of any of Signals. Further
// signals received while the shutdown sequence runs are absorbed so a second
// interrupt cannot kill the supervisor before its children.
type SignalSource struct {
	Signals []os.Signal
}

// NewSignalSource returns a SignalSource for the platform's termination
// signals.
func NewSignalSource() SignalSource {
	return SignalSource{Signals: terminationSignals()}
}

func (s SignalSource) Install(t Trigger) (func(), error) {
	if len(s.Signals) == 0 {
		return nil, errors.New("signal source: no signals configured")
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.Signals...)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case sig := <-ch:
				go t.Shutdown(fmt.Sprintf("signal: %s", sig))
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(quit)
	}, nil
}
