package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/runtime"
)

// Mux fans in log events from multiple children and delivers them via a
// bounded channel. When downstream consumers cannot keep up and the output
// buffer would overflow, the mux drops log records and emits a synthesized
// warning event to surface the number of discarded entries. A chatty child
// therefore never blocks on its own output.
type Mux struct {
	out chan engine.Event

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan engine.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes log events until the
// source channel is closed.
func (m *Mux) Add(source <-chan engine.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			if evt.Type != engine.EventTypeLog {
				continue
			}
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt engine.Event) {
	if !m.flushPending(evt.Child) {
		m.recordDrop(evt.Child, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Child, 1)
}

func (m *Mux) flushPending(child string) bool {
	for {
		count := m.takeDrops(child)
		if count == 0 {
			return true
		}
		if m.trySend(synthesizeDropEvent(child, count)) {
			continue
		}
		m.recordDrop(child, count)
		return false
	}
}

func (m *Mux) takeDrops(child string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[child]
	delete(m.drops, child)
	return count
}

func (m *Mux) recordDrop(child string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[child] += count
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]int)
	m.mu.Unlock()

	for child, count := range pending {
		if count == 0 {
			continue
		}
		m.out <- synthesizeDropEvent(child, count)
	}
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = runtime.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == runtime.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(child string, count int) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Child:     child,
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
	}
}
