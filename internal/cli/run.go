package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"frametest/internal/emu"
	"frametest/internal/report"
	"frametest/internal/runner"
	"frametest/internal/spec"
	"frametest/internal/store"
	"frametest/internal/suite"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	Test  string
	Suite string

	Backend  string
	Emulator string
	Profile  string
	OutDir   string
	Database string

	Parallel     int
	SettleFrames int64
	Headless     bool
	Video        bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single test or a suite directory",
		Long: `Run one test spec (--test) or every spec in a suite directory
(--suite), render the report, and exit 0 only if every executed test
passed.

Example:
  frametest run --test specs/4-player-join.yaml --profile profiles/default.yaml
  frametest run --suite specs/smoke --parallel 4 --out ./artifacts --db ./history.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Test, "test", "", "path to a single test spec")
	cmd.Flags().StringVar(&opts.Suite, "suite", "", "path to a suite directory")
	cmd.Flags().StringVar(&opts.Backend, "backend", "process", "emulator backend (process|fake)")
	cmd.Flags().StringVar(&opts.Emulator, "emulator", "frametest-emu", "emulator binary for the process backend")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "input profile document")
	cmd.Flags().StringVar(&opts.OutDir, "out", "artifacts", "artifact output directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "optional SQLite database for run history")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "max concurrent emulator sessions")
	cmd.Flags().Int64Var(&opts.SettleFrames, "settle-frames", 0, "extra frames to run after the last step")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run the emulator without video output")
	cmd.Flags().BoolVar(&opts.Video, "video", false, "record a video artifact per test")

	return cmd
}

func runTests(cmd *cobra.Command, opts *RunOptions) error {
	if (opts.Test == "") == (opts.Suite == "") {
		return NewExitError(ExitCommandError, "exactly one of --test or --suite is required")
	}

	launch, err := selectBackend(opts)
	if err != nil {
		return err
	}

	var profile *spec.Profile
	if opts.Profile != "" {
		profile, err = spec.LoadProfile(opts.Profile)
		if err != nil {
			return WrapExitError(ExitCommandError, "load input profile", err)
		}
	}

	var name string
	var specPaths []string
	if opts.Test != "" {
		name = strings.TrimSuffix(filepath.Base(opts.Test), filepath.Ext(opts.Test))
		specPaths = []string{opts.Test}
	} else {
		name = filepath.Base(filepath.Clean(opts.Suite))
		specPaths, err = suite.Discover(opts.Suite)
		if err != nil {
			return WrapExitError(ExitCommandError, "discover suite", err)
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	res := suite.Run(ctx, name, specPaths, suite.Options{
		Launch:       launch,
		Profile:      profile,
		OutDir:       opts.OutDir,
		Parallel:     opts.Parallel,
		SettleFrames: opts.SettleFrames,
		Headless:     opts.Headless,
		Video:        opts.Video,
	})

	if err := emitReport(cmd, opts, res); err != nil {
		return err
	}
	persistRun(ctx, opts.Database, res)

	if !res.AllPassed() {
		return NewExitError(ExitFailure, fmt.Sprintf(
			"%d of %d tests did not pass", res.Total()-res.Passed, res.Total()))
	}
	return nil
}

// selectBackend builds the session launcher. The process backend is
// preflighted here: a missing emulator binary is environmental and fails
// the whole run before any test starts.
func selectBackend(opts *RunOptions) (runner.Launcher, error) {
	switch opts.Backend {
	case "process":
		if _, err := exec.LookPath(opts.Emulator); err != nil {
			return nil, WrapExitError(ExitCommandError,
				fmt.Sprintf("emulator binary %q not found", opts.Emulator), err)
		}
		binary := opts.Emulator
		return func(cfg emu.LaunchConfig) (emu.Session, error) {
			return emu.LaunchProcess(binary, cfg)
		}, nil

	case "fake":
		// Dry-run backend: accepts every input, exposes no state.
		return func(cfg emu.LaunchConfig) (emu.Session, error) {
			return emu.NewFake(emu.DefaultFrameRate, nil), nil
		}, nil

	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q (want process or fake)", opts.Backend))
	}
}

// emitReport writes the machine report under the artifact directory and
// renders the requested format to stdout.
func emitReport(cmd *cobra.Command, opts *RunOptions, res *suite.SuiteResult) error {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create output directory", err)
	}
	reportPath := filepath.Join(opts.OutDir, "report.jsonl")
	f, err := os.Create(reportPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "create report file", err)
	}
	defer f.Close()
	if err := report.WriteJSONL(f, res); err != nil {
		return WrapExitError(ExitCommandError, "write report", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return report.WriteJSONL(out, res)
	}
	return report.WriteText(out, res)
}

// persistRun records history when a database is configured. Persistence
// failures are logged, never turned into a run failure.
func persistRun(ctx context.Context, dbPath string, res *suite.SuiteResult) {
	if dbPath == "" {
		return
	}
	st, err := store.Open(dbPath)
	if err != nil {
		slog.Warn("history store unavailable", "db", dbPath, "error", err)
		return
	}
	defer st.Close()
	if err := st.WriteRun(ctx, res); err != nil {
		slog.Warn("history write failed", "db", dbPath, "error", err)
	}
}

// signalContext derives a context cancelled by SIGINT/SIGTERM, so a
// Ctrl-C tears down in-flight emulator sessions cleanly.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
