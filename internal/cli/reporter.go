package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Paintersrp/muther/internal/cliutil"
	"github.com/Paintersrp/muther/internal/engine"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// resolveOutput picks the output format: an explicit flag or MUTHER_OUTPUT
// wins, otherwise text on a terminal and JSON lines when piped.
func (c *context) resolveOutput(out io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(c.output)) {
	case "":
		if c.stdoutIsTerminal(out) {
			return outputText, nil
		}
		return outputJSON, nil
	case outputText:
		return outputText, nil
	case outputJSON:
		return outputJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text or json)", c.output)
	}
}

func (c *context) stdoutIsTerminal(out io.Writer) bool {
	if c.isTerminal != nil {
		return c.isTerminal()
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newReporter(format, prefix, session string, stdout, stderr io.Writer) engine.Reporter {
	if format == outputJSON {
		return &jsonReporter{enc: json.NewEncoder(stdout), stderr: stderr, session: session}
	}
	return &textReporter{out: stdout, prefix: prefix}
}

type textReporter struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

func (r *textReporter) Report(evt engine.Event) {
	line := cliutil.FormatText(r.prefix, evt)
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, line)
}

type jsonReporter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	stderr  io.Writer
	session string
}

func (r *jsonReporter) Report(evt engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cliutil.EncodeLogEvent(r.enc, r.stderr, evt, r.session)
}
