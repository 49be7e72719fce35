package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/muther/internal/engine"
)

// LogRecord represents a structured log event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Session   string    `json:"session,omitempty"`
	Child     string    `json:"child,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Event     string    `json:"event"`
	Source    string    `json:"source,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Code      *int      `json:"code,omitempty"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record.
func NewLogRecord(event engine.Event, session string) LogRecord {
	level := event.Level
	if level == "" {
		if inferred := inferLogLevel(event.Message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		Session:   session,
		Child:     event.Child,
		PID:       event.PID,
		Event:     string(event.Type),
		Source:    event.Source,
		Level:     level,
		Message:   RedactSecrets(event.Message),
		State:     event.State,
		Reason:    event.Reason,
	}
	if event.Type == engine.EventTypeExited {
		code := event.Code
		record.Code = &code
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEvent encodes a log event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event, session string) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event, session)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// FormatText renders an event as a single human readable line, for example
// "[muther] server (pid 42) exited code=1".
func FormatText(prefix string, event engine.Event) string {
	var b strings.Builder
	if prefix != "" {
		fmt.Fprintf(&b, "[%s] ", prefix)
	}
	if event.Type == engine.EventTypeLog {
		fmt.Fprintf(&b, "%s | %s", event.Child, RedactSecrets(event.Message))
		return b.String()
	}
	if event.Child != "" {
		b.WriteString(event.Child)
		if event.PID > 0 {
			fmt.Fprintf(&b, " (pid %d)", event.PID)
		}
		b.WriteByte(' ')
	}
	switch event.Type {
	case engine.EventTypeExited:
		fmt.Fprintf(&b, "exited code=%d", event.Code)
		if event.Reason == engine.ReasonUnexpectedExit {
			b.WriteString(" unexpectedly")
		}
	case engine.EventTypeShutdown:
		b.WriteString("shutting down")
		if event.Reason != "" {
			fmt.Fprintf(&b, " (%s)", event.Reason)
		}
	case engine.EventTypeShutdownComplete:
		b.WriteString("shutdown complete")
	default:
		b.WriteString(RedactSecrets(event.Message))
	}
	if event.Err != nil {
		fmt.Fprintf(&b, ": %s", RedactSecrets(event.Err.Error()))
	}
	return b.String()
}
