// Package emu defines the contract the harness requires from an emulator
// backend and provides the two shipped implementations: a subprocess
// backend speaking a line-delimited JSON control protocol, and a
// deterministic in-memory fake for tests and harness self-checks.
//
// The emulator is a black box. The harness never advances emulated time
// itself; the session's frame callback is the sole clock source.
package emu

import (
	"context"
	"fmt"
)

// LaunchConfig carries everything a backend needs to start one session.
type LaunchConfig struct {
	// GameFile is the path to the game image to boot.
	GameFile string

	// Savestate is an optional savestate to restore immediately after
	// boot. Empty means cold boot.
	Savestate string

	// Headless disables video output where the backend supports it.
	Headless bool

	// Video asks the backend to record a video of the run alongside
	// its other artifacts.
	Video bool
}

// FrameFunc is invoked once per emulated video frame, after the frame has
// completed. frame is the zero-based index of the completed frame.
// Returning false stops the session's frame loop; returning an error
// stops it and surfaces the error from Run.
type FrameFunc func(frame int64) (cont bool, err error)

// Session is one live emulator instance plus the control channel used to
// drive and query it.
//
// All methods must be called from the goroutine running Run; a session is
// single-threaded by design. Terminate is the exception: it is idempotent
// and safe to call from any goroutine, including after Run returns.
type Session interface {
	// FrameRate returns the emulated frames per second, probed at
	// launch. Used to convert wall-clock timeouts into frame budgets.
	FrameRate() float64

	// Run steps the emulator one frame at a time, invoking onFrame
	// after each frame, until onFrame returns false, the context is
	// cancelled, or the emulator dies.
	Run(ctx context.Context, onFrame FrameFunc) error

	// InjectInput presses or releases one control for one player,
	// taking effect on the next frame step.
	InjectInput(player int, control string, pressed bool) error

	// QuerySnapshot reads the current named state variables. The
	// returned snapshot is fresh on every call.
	QuerySnapshot() (Snapshot, error)

	// CaptureScreenshot writes the current frame buffer to path.
	CaptureScreenshot(path string) error

	// SaveState and LoadState operate on named savestate slots.
	SaveState(slot string) error
	LoadState(slot string) error

	// Terminate tears the session down. Idempotent.
	Terminate() error
}

// LaunchError reports that a session could not be started: the emulator
// binary is missing, or its BIOS/firmware dependencies are absent.
// Fatal to the test; fatal to the whole run when detected before any
// test starts.
type LaunchError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("emulator launch failed (%s): %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("emulator launch failed (%s): %s", e.Backend, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// CrashError reports that the emulator process died while a test was
// still driving it. Recorded as status error, never retried.
type CrashError struct {
	Frame int64
	Err   error
}

func (e *CrashError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("emulator crashed at frame %d: %v", e.Frame, e.Err)
	}
	return fmt.Sprintf("emulator crashed at frame %d", e.Frame)
}

func (e *CrashError) Unwrap() error { return e.Err }
