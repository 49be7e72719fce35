package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// stderrTailLimit bounds the stderr kept for a failing check command.
const stderrTailLimit = 4 * 1024

type commandProber struct {
	command []string
}

func newCommandProber(spec *CommandSpec) (Prober, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("probe: command requires at least one argument")
	}
	return &commandProber{command: append([]string(nil), spec.Command...)}, nil
}

// Probe runs the check command; its last stderr line becomes the failure
// reason.
func (p *commandProber) Probe(ctx context.Context) error {
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if line := stderr.lastLine(); line != "" {
			return fmt.Errorf("exit %d: %s", exitErr.ExitCode(), line)
		}
		return fmt.Errorf("exit %d", exitErr.ExitCode())
	}
	return fmt.Errorf("command failed: %w", err)
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) lastLine() string {
	text := strings.TrimRight(t.buf.String(), "\r\n")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(text)
}
