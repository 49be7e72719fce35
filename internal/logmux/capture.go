package logmux

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/runtime"
)

const (
	sourceBuffer = 64
	// maxLineLength caps a single log event; longer lines are split.
	maxLineLength = 16 * 1024
)

// Capture turns child output streams into log events delivered through a
// Mux, one event per line.
type Capture struct {
	mux *Mux

	mu      sync.Mutex
	writers []*lineWriter
	closed  bool
}

// NewCapture returns a Capture feeding mux. Close must be called to flush
// partial lines and close the mux.
func NewCapture(mux *Mux) *Capture {
	return &Capture{mux: mux}
}

// Writers returns the stdout and stderr writers for child.
func (c *Capture) Writers(child string) (stdout, stderr io.Writer) {
	out := c.newWriter(child, runtime.LogSourceStdout)
	errw := c.newWriter(child, runtime.LogSourceStderr)
	return out, errw
}

func (c *Capture) newWriter(child, source string) *lineWriter {
	ch := make(chan engine.Event, sourceBuffer)
	w := &lineWriter{child: child, source: source, ch: ch}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		w.closed = true
		close(ch)
		return w
	}
	c.writers = append(c.writers, w)
	c.mux.Add(ch)
	return w
}

// Close flushes every writer, discards output written afterwards and closes
// the underlying mux once it has drained.
func (c *Capture) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	writers := c.writers
	c.writers = nil
	c.mu.Unlock()

	for _, w := range writers {
		w.close()
	}
	c.mux.Close()
}

type lineWriter struct {
	child  string
	source string

	mu     sync.Mutex
	buf    bytes.Buffer
	ch     chan engine.Event
	closed bool
	// split is set while the pending bytes continue a line already cut at
	// maxLineLength.
	split bool
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		switch {
		case idx >= 0 && idx <= maxLineLength:
			line := bytes.TrimRight(w.buf.Next(idx+1), "\r\n")
			if len(line) == 0 && w.split {
				// The newline that ends a line already emitted in chunks.
				w.split = false
				continue
			}
			w.split = false
			w.emit(line)
		case len(data) >= maxLineLength:
			w.emit(w.buf.Next(maxLineLength))
			w.split = true
		default:
			return len(p), nil
		}
	}
}

func (w *lineWriter) emit(line []byte) {
	w.ch <- engine.Event{
		Timestamp: time.Now(),
		Child:     w.child,
		Type:      engine.EventTypeLog,
		Message:   string(line),
		Source:    w.source,
	}
}

func (w *lineWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.buf.Len() > 0 {
		w.emit(bytes.TrimRight(w.buf.Bytes(), "\r\n"))
		w.buf.Reset()
	}
	w.closed = true
	close(w.ch)
}
