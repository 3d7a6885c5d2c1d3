package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"frametest/internal/emu"
	"frametest/internal/spec"
)

// Launcher starts one emulator session for a test. Backends plug in
// here: the process backend, the fake, or anything test code supplies.
type Launcher func(cfg emu.LaunchConfig) (emu.Session, error)

// Options configures a Runner.
type Options struct {
	// Launch starts the backend session. Required.
	Launch Launcher

	// Profile resolves INPUT symbols. Required for specs with INPUT
	// steps; a spec without them runs fine with a nil profile.
	Profile *spec.Profile

	// ArtifactDir receives screenshots and logs for this test.
	ArtifactDir string

	// SettleFrames keeps the session stepping after the last step so
	// trailing inputs take effect before teardown.
	SettleFrames int64

	// Headless and Video are passed through to the backend.
	Headless bool
	Video    bool

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Run executes one test spec end to end and emits exactly one result.
//
// The session is torn down unconditionally, whatever the outcome; a
// result is produced even when the session never launched.
func Run(ctx context.Context, ts *spec.TestSpec, opts Options) *TestResult {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	result := &TestResult{Name: ts.Name}

	if err := spec.EnsureArtifactDir(ts.Name, opts.ArtifactDir); err != nil {
		result.Status = StatusError
		result.Failures = append(result.Failures, Failure{Step: -1, Kind: KindSpecInvalid, Message: err.Error()})
		result.Duration = time.Since(start)
		return result
	}

	session, err := opts.Launch(emu.LaunchConfig{
		GameFile:  ts.GameFile,
		Savestate: ts.Savestate,
		Headless:  opts.Headless,
		Video:     opts.Video,
	})
	if err != nil {
		result.Status = StatusError
		result.Failures = append(result.Failures, Failure{Step: -1, Kind: KindEmulatorLaunch, Message: err.Error()})
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if err := session.Terminate(); err != nil {
			logger.Warn("session teardown", "test", ts.Name, "error", err)
		}
	}()

	logger.Info("test starting",
		"test", ts.Name,
		"steps", len(ts.Steps),
		"timeout_s", ts.Timeout,
		"fps", session.FrameRate(),
	)

	sched := newScheduler(ts, opts.Profile, session, opts.ArtifactDir, opts.SettleFrames, logger)
	runErr := session.Run(ctx, sched.onFrame)
	sched.flushLog()

	result.Frames = sched.frame
	result.Failures = sched.failures
	result.Artifacts = sched.artifacts
	result.Status = classify(sched, runErr)
	result.Duration = time.Since(start)

	if runErr != nil {
		var crash *emu.CrashError
		if errors.As(runErr, &crash) {
			result.Failures = append(result.Failures, Failure{Step: -1, Frame: crash.Frame, Kind: KindEmulatorCrash, Message: crash.Error()})
		} else if !errors.Is(runErr, context.Canceled) {
			result.Failures = append(result.Failures, Failure{Step: -1, Frame: sched.frame, Kind: KindEmulatorCrash, Message: fmt.Sprintf("session loop: %v", runErr)})
		}
	}

	logger.Info("test finished",
		"test", ts.Name,
		"status", string(result.Status),
		"frames", result.Frames,
		"failures", len(result.Failures),
		"duration", result.Duration,
	)
	return result
}

// classify derives the terminal status. Precedence: crash and fatal
// script errors over timeout, timeout over assertion failures.
func classify(sched *scheduler, runErr error) Status {
	switch {
	case runErr != nil:
		return StatusError
	case sched.fatal != nil:
		return StatusError
	case sched.timedOut:
		return StatusTimeout
	case sched.failed:
		return StatusFailed
	default:
		return StatusPassed
	}
}
