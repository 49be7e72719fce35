package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/muther/internal/config"
	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/logmux"
	"github.com/Paintersrp/muther/internal/metrics"
)

const captureBuffer = 256

func newRunCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the children and supervise them until shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cmd, ctx)
		},
	}
}

type runSettings struct {
	gracePeriod  time.Duration
	pollInterval time.Duration
	readyTimeout time.Duration
}

// resolveSettings layers flags and environment, which share the context
// fields, over the manifest's launcher settings.
func (c *context) resolveSettings(doc *config.Manifest) runSettings {
	settings := runSettings{
		gracePeriod:  doc.Launcher.GracePeriod.Duration,
		pollInterval: doc.Launcher.PollInterval.Duration,
		readyTimeout: doc.Launcher.ReadyTimeout.Duration,
	}
	if c.gracePeriod > 0 {
		settings.gracePeriod = c.gracePeriod
	}
	if c.pollInterval > 0 {
		settings.pollInterval = c.pollInterval
	}
	return settings
}

func runSupervisor(cmd *cobra.Command, ctx *context) error {
	doc, err := ctx.loadManifest()
	if err != nil {
		return err
	}
	manifest := doc.Manifest
	settings := ctx.resolveSettings(manifest)

	stdout := cmd.OutOrStdout()
	format, err := ctx.resolveOutput(stdout)
	if err != nil {
		return err
	}
	session := uuid.NewString()
	reporter := newReporter(format, manifest.Launcher.Name, session, stdout, cmd.ErrOrStderr())

	for _, child := range manifest.Children {
		metrics.ResetChild(child.Name)
	}

	sup := engine.New(ctx.getSpawner(),
		engine.WithGracePeriod(settings.gracePeriod),
		engine.WithPollInterval(settings.pollInterval),
		engine.WithReadyTimeout(settings.readyTimeout),
		engine.WithReporter(reporter),
	)

	stopSources, err := engine.InstallSources(sup, engine.DefaultSources(settings.gracePeriod)...)
	if err != nil {
		return err
	}
	defer stopSources()

	if ctx.apiAddr != "" {
		server, err := startAPIServer(ctx.apiAddr, newSupervisorController(sup, manifest, session))
		if err != nil {
			return err
		}
		defer server.Close()
		reporter.Report(engine.NewDiagnostic("info", fmt.Sprintf("api listening on http://%s", server.Addr())))
	}

	specs := manifest.ChildSpecs()
	if ctx.capture {
		stopCapture := captureOutput(specs, reporter)
		defer stopCapture()
	}

	// Deferred last so it runs first: children are gone before output
	// capture, the api server and the signal handlers are removed.
	defer sup.Guard()()

	reporter.Report(engine.NewDiagnostic("info", fmt.Sprintf("launcher running from %s (manifest: %s)", manifest.Launcher.Root, doc.Source)))
	if ctx.verbose {
		reportDirectoryListings(reporter, manifest)
	}

	runCtx := cmd.Context()
	if err := sup.Start(runCtx, specs); err != nil {
		if errors.Is(err, engine.ErrShuttingDown) {
			return nil
		}
		if errors.Is(err, stdcontext.Canceled) {
			sup.Shutdown(engine.ReasonContextCancelled)
			return nil
		}
		return &ExitError{Code: ExitCode(err), Err: err}
	}

	if err := sup.Monitor(runCtx); err != nil {
		sup.Shutdown(engine.ReasonContextCancelled)
	}
	<-sup.Done()
	return nil
}

// captureOutput points every child's stdout and stderr at a log mux whose
// lines are forwarded to reporter. The returned func flushes and waits for
// the forwarder; it must run after the children are gone.
func captureOutput(specs []engine.ChildSpec, reporter engine.Reporter) func() {
	mux := logmux.New(captureBuffer)
	capture := logmux.NewCapture(mux)
	for i := range specs {
		specs[i].Stdout, specs[i].Stderr = capture.Writers(specs[i].Name)
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for evt := range mux.Output() {
			reporter.Report(evt)
		}
	}()

	return func() {
		capture.Close()
		<-forwarded
	}
}

func reportDirectoryListings(reporter engine.Reporter, doc *config.Manifest) {
	for _, child := range doc.Children {
		entries, err := os.ReadDir(child.Workdir)
		if err != nil {
			reporter.Report(engine.NewDiagnostic("warn", fmt.Sprintf("%s: list %s: %v", child.Name, child.Workdir, err)))
			continue
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		sort.Strings(names)
		reporter.Report(engine.NewDiagnostic("debug", fmt.Sprintf("%s: %s contains [%s]", child.Name, child.Workdir, strings.Join(names, ", "))))
	}
}
