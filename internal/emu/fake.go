package emu

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// InputFunc lets a Fake react to injected input by mutating state.
// state is the fake's live variable table; mutations become visible to
// the next QuerySnapshot.
type InputFunc func(state map[string]Value, player int, control string, pressed bool)

// Fake is a deterministic in-memory session. It is used by the harness's
// own tests and by the `fake` CLI backend for dry-running specs without
// an emulator installed.
//
// The zero value is not usable; construct with NewFake.
type Fake struct {
	rate  float64
	frame int64
	state map[string]Value
	slots map[string]map[string]Value

	// OnInput is called synchronously for every InjectInput. Nil means
	// inputs are accepted and ignored.
	OnInput InputFunc

	// StateScript applies variable writes just before the numbered
	// frame's callback fires. Lets tests pin state to exact frames.
	StateScript map[int64]map[string]Value

	// CrashAtFrame, when > 0, makes Run fail with a CrashError before
	// that frame's callback. Simulates the process dying mid-run.
	CrashAtFrame int64

	// FailScreenshots makes CaptureScreenshot return an error without
	// touching the filesystem.
	FailScreenshots bool

	termOnce   sync.Once
	terminated bool
}

// NewFake creates a fake session running at the given frame rate with an
// initial state table. initial may be nil.
func NewFake(rate float64, initial map[string]Value) *Fake {
	state := make(map[string]Value, len(initial))
	for k, v := range initial {
		state[k] = v
	}
	return &Fake{
		rate:  rate,
		state: state,
		slots: make(map[string]map[string]Value),
	}
}

// FrameRate returns the configured rate.
func (f *Fake) FrameRate() float64 { return f.rate }

// Run advances one frame per iteration until stopped.
func (f *Fake) Run(ctx context.Context, onFrame FrameFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.terminated {
			return nil
		}

		f.frame++
		if f.CrashAtFrame > 0 && f.frame >= f.CrashAtFrame {
			return &CrashError{Frame: f.frame}
		}
		if writes, ok := f.StateScript[f.frame]; ok {
			for k, v := range writes {
				f.state[k] = v
			}
		}

		cont, err := onFrame(f.frame)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// InjectInput forwards to OnInput when set.
func (f *Fake) InjectInput(player int, control string, pressed bool) error {
	if f.OnInput != nil {
		f.OnInput(f.state, player, control, pressed)
	}
	return nil
}

// QuerySnapshot returns a fresh copy of the variable table.
func (f *Fake) QuerySnapshot() (Snapshot, error) {
	snap := make(Snapshot, len(f.state))
	for k, v := range f.state {
		snap[k] = v
	}
	return snap, nil
}

// CaptureScreenshot writes a placeholder artifact to path.
func (f *Fake) CaptureScreenshot(path string) error {
	if f.FailScreenshots {
		return fmt.Errorf("screenshot capture unavailable")
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("fake frame %d\n", f.frame)), 0o644)
}

// SaveState snapshots the variable table into a named slot.
func (f *Fake) SaveState(slot string) error {
	saved := make(map[string]Value, len(f.state))
	for k, v := range f.state {
		saved[k] = v
	}
	f.slots[slot] = saved
	return nil
}

// LoadState restores a previously saved slot.
func (f *Fake) LoadState(slot string) error {
	saved, ok := f.slots[slot]
	if !ok {
		return fmt.Errorf("savestate slot %q does not exist", slot)
	}
	f.state = make(map[string]Value, len(saved))
	for k, v := range saved {
		f.state[k] = v
	}
	return nil
}

// Terminate stops the frame loop. Idempotent.
func (f *Fake) Terminate() error {
	f.termOnce.Do(func() { f.terminated = true })
	return nil
}
