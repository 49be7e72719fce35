package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/muther/internal/cliutil"
	"github.com/Paintersrp/muther/internal/runtime"
	"github.com/Paintersrp/muther/internal/runtime/process"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	env := runConfigFromEnv()
	ctx := &context{
		manifestFile: env.Manifest,
		output:       env.Output,
		gracePeriod:  env.GracePeriod,
		pollInterval: env.PollInterval,
		apiAddr:      env.APIAddr,
		capture:      env.CaptureOutput,
	}

	run := newRunCmd(ctx)
	root := &cobra.Command{
		Use:   "muther",
		Short: "Launch the inference server and client and tear both down on exit",
		Long: "muther starts the children listed in its launch manifest (the built-in\n" +
			"server and client pair by default), reports their exits and, on Ctrl+C,\n" +
			"terminal or window close, or any other exit, stops every child gracefully\n" +
			"and force-kills the ones that outlive the grace period.",
		Args: cobra.NoArgs,
		RunE: run.RunE,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.manifestFile, "file", "f", ctx.manifestFile, "Path to launch manifest (.yaml or .toml); defaults to muther.yaml or the built-in manifest")
	flags.StringVarP(&ctx.output, "output", "o", ctx.output, "Output format: text or json (default text on a terminal, json otherwise)")
	flags.DurationVar(&ctx.gracePeriod, "grace-period", ctx.gracePeriod, "Time each child gets to exit after a graceful stop request")
	flags.DurationVar(&ctx.pollInterval, "poll-interval", ctx.pollInterval, "Interval between child liveness checks")
	flags.StringVar(&ctx.apiAddr, "api-addr", ctx.apiAddr, "Serve status, shutdown and Prometheus metrics endpoints on this address (disabled when empty)")
	flags.BoolVar(&ctx.capture, "capture-output", ctx.capture, "Report each line children write to stdout and stderr instead of passing it through")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Print diagnostics such as the contents of each child's working directory")

	root.AddCommand(run)
	root.AddCommand(newConfigCmd(ctx))
	root.AddCommand(newConsoleBreakCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint and exits with the code matching the
// outcome.
func Execute() {
	root := NewRootCmd()
	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCode(err))
	}
}

type context struct {
	manifestFile string
	output       string
	gracePeriod  time.Duration
	pollInterval time.Duration
	apiAddr      string
	capture      bool
	verbose      bool

	// spawner launches children; nil means the os/exec implementation.
	spawner runtime.Spawner
	// isTerminal reports whether stdout is a terminal; nil means probe the
	// real stdout.
	isTerminal func() bool
}

func (c *context) loadManifest() (*cliutil.ManifestDocument, error) {
	return cliutil.LoadManifest(c.manifestFile)
}

func (c *context) getSpawner() runtime.Spawner {
	if c.spawner == nil {
		c.spawner = process.New()
	}
	return c.spawner
}

type runConfig struct {
	Manifest      string
	Output        string
	GracePeriod   time.Duration
	PollInterval  time.Duration
	APIAddr       string
	CaptureOutput bool
}

func runConfigFromEnv() runConfig {
	cfg := runConfig{}
	cfg.Manifest = os.Getenv("MUTHER_MANIFEST")
	cfg.Output = os.Getenv("MUTHER_OUTPUT")
	cfg.APIAddr = os.Getenv("MUTHER_API_ADDR")
	if value := os.Getenv("MUTHER_GRACE_PERIOD"); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			cfg.GracePeriod = d
		}
	}
	if value := os.Getenv("MUTHER_POLL_INTERVAL"); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if value := os.Getenv("MUTHER_CAPTURE_OUTPUT"); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			cfg.CaptureOutput = enabled
		}
	}
	return cfg
}
