// Package runner executes one test spec against one emulator session:
// the frame scheduler dispatches scripted steps on the session's frame
// clock, and the runner owns session lifecycle and result assembly.
package runner

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"frametest/internal/assertion"
	"frametest/internal/emu"
	"frametest/internal/spec"
)

// scheduler is the per-test frame state machine.
//
// It progresses only inside OnFrame, which the session calls once per
// emulated frame; nothing here polls or blocks. Steps dispatch in
// declaration order: the cursor only advances past a step once that step
// has fired, so a later-declared step with an earlier target frame still
// waits for its predecessors (frames are never used to reorder).
type scheduler struct {
	spec        *spec.TestSpec
	profile     *spec.Profile
	session     emu.Session
	artifactDir string
	logger      *slog.Logger

	frameBudget  int64
	settleFrames int64

	frame      int64
	cursor     int
	dispatched int

	failed   bool
	timedOut bool
	fatal    *Failure

	failures  []Failure
	artifacts []string
	logLines  []string
}

func newScheduler(ts *spec.TestSpec, profile *spec.Profile, session emu.Session, artifactDir string, settleFrames int64, logger *slog.Logger) *scheduler {
	budget := int64(math.Ceil(float64(ts.Timeout) * session.FrameRate()))
	return &scheduler{
		spec:         ts,
		profile:      profile,
		session:      session,
		artifactDir:  artifactDir,
		logger:       logger,
		frameBudget:  budget,
		settleFrames: settleFrames,
	}
}

// onFrame is the session's FrameFunc. Returns false once the test has
// reached a terminal condition.
func (s *scheduler) onFrame(frame int64) (bool, error) {
	s.frame = frame

	// Dispatch every due step. The cursor stops at the first step whose
	// frame is still in the future, preserving declaration order even
	// when a later step targets an earlier frame.
	for s.cursor < len(s.spec.Steps) && s.spec.Steps[s.cursor].Frame <= frame {
		idx := s.cursor
		s.cursor++
		s.dispatched++
		if err := s.dispatch(idx, s.spec.Steps[idx]); err != nil {
			return false, err
		}
		if s.fatal != nil {
			return false, nil
		}
	}

	if s.cursor == len(s.spec.Steps) {
		// Script complete; optional trailing settle frames let the
		// last inputs take effect before teardown.
		last := int64(0)
		if n := len(s.spec.Steps); n > 0 {
			last = s.spec.Steps[n-1].Frame
		}
		if frame >= last+s.settleFrames {
			return false, nil
		}
	}

	if frame >= s.frameBudget {
		s.timedOut = true
		s.record(Failure{
			Step:    -1,
			Frame:   frame,
			Kind:    KindTimeout,
			Message: fmt.Sprintf("frame budget %d exhausted with %d of %d steps dispatched", s.frameBudget, s.dispatched, len(s.spec.Steps)),
		})
		return false, nil
	}
	return true, nil
}

// dispatch fires one step exactly once. A returned error tears the
// session loop down immediately (reserved for transport-level crashes);
// script-level fatals set s.fatal instead so the failure is recorded
// with step context.
func (s *scheduler) dispatch(idx int, step spec.Step) error {
	s.logger.Debug("dispatching step",
		"test", s.spec.Name,
		"step", idx,
		"action", string(step.Action),
		"frame", s.frame,
		"target", step.Frame,
	)

	switch step.Action {
	case spec.ActionWait:
		// Existence alone paced the script; nothing to do.
		return nil

	case spec.ActionInput:
		return s.dispatchInput(idx, step)

	case spec.ActionAssert:
		s.dispatchAssert(idx, step)
		return nil

	case spec.ActionScreenshot:
		s.dispatchScreenshot(idx, step)
		return nil

	case spec.ActionStateSave:
		if err := s.session.SaveState(step.Value); err != nil {
			s.setFatal(idx, KindStateTransfer, fmt.Sprintf("save %q: %v", step.Value, err))
		}
		return nil

	case spec.ActionStateLoad:
		if err := s.session.LoadState(step.Value); err != nil {
			s.setFatal(idx, KindStateTransfer, fmt.Sprintf("load %q: %v", step.Value, err))
		}
		return nil

	case spec.ActionLog:
		s.logLines = append(s.logLines, fmt.Sprintf("frame %d: %s", s.frame, step.Value))
		return nil

	default:
		// Unreachable: the loader rejects unrecognized actions.
		s.setFatal(idx, KindSpecInvalid, fmt.Sprintf("unrecognized action %q", step.Action))
		return nil
	}
}

func (s *scheduler) dispatchInput(idx int, step spec.Step) error {
	if s.profile == nil {
		s.setFatal(idx, KindInputResolution, fmt.Sprintf("no input profile loaded, cannot resolve %q", step.Value))
		return nil
	}
	resolved, err := s.profile.Resolve(step.Value)
	if err != nil {
		// The scripted sequence cannot proceed meaningfully with an
		// input missing; abort the test.
		s.setFatal(idx, KindInputResolution, err.Error())
		return nil
	}
	if err := s.session.InjectInput(resolved.Player, resolved.Control, resolved.Pressed); err != nil {
		if crash, ok := err.(*emu.CrashError); ok {
			return crash
		}
		s.setFatal(idx, KindInputResolution, fmt.Sprintf("inject %s: %v", step.Value, err))
	}
	return nil
}

func (s *scheduler) dispatchAssert(idx int, step spec.Step) {
	snap, err := s.session.QuerySnapshot()
	if err != nil {
		s.setFatal(idx, KindEmulatorCrash, fmt.Sprintf("state query: %v", err))
		return
	}

	ok, err := assertion.Evaluate(step.Value, snap)
	switch {
	case err != nil:
		kind := KindAssertionFailed
		switch err.(type) {
		case *assertion.UnknownVariableError:
			kind = KindUnknownVariable
		case *assertion.TypeMismatchError:
			kind = KindTypeMismatch
		}
		s.failed = true
		s.record(Failure{Step: idx, Frame: s.frame, Kind: kind, Message: err.Error()})
	case !ok:
		s.failed = true
		s.record(Failure{
			Step:    idx,
			Frame:   s.frame,
			Kind:    KindAssertionFailed,
			Message: fmt.Sprintf("%s (snapshot: %s)", step.Value, describeActual(step.Value, snap)),
		})
	}
}

func (s *scheduler) dispatchScreenshot(idx int, step spec.Step) {
	path := filepath.Join(s.artifactDir, step.Value)
	if err := s.session.CaptureScreenshot(path); err != nil {
		// Artifact loss is recorded but never fails the test by itself.
		s.record(Failure{Step: idx, Frame: s.frame, Kind: KindArtifactIO, Message: fmt.Sprintf("screenshot %q: %v", step.Value, err)})
		return
	}
	s.artifacts = append(s.artifacts, path)
}

func (s *scheduler) setFatal(idx int, kind FailureKind, msg string) {
	f := Failure{Step: idx, Frame: s.frame, Kind: kind, Message: msg}
	s.fatal = &f
	s.record(f)
}

func (s *scheduler) record(f Failure) {
	s.failures = append(s.failures, f)
	s.logger.Debug("failure recorded",
		"test", s.spec.Name,
		"step", f.Step,
		"frame", f.Frame,
		"kind", string(f.Kind),
	)
}

// flushLog writes accumulated LOG lines to the test's log artifact.
// LOG steps themselves never fail; a write failure here is an artifact
// failure like any other.
func (s *scheduler) flushLog() {
	if len(s.logLines) == 0 {
		return
	}
	path := filepath.Join(s.artifactDir, "test.log")
	data := strings.Join(s.logLines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		s.record(Failure{Step: -1, Frame: s.frame, Kind: KindArtifactIO, Message: fmt.Sprintf("write log: %v", err)})
		return
	}
	s.artifacts = append(s.artifacts, path)
}

// describeActual renders the snapshot value an assertion saw, for
// failure messages. Best effort; parse errors were already reported.
func describeActual(exprSrc string, snap emu.Snapshot) string {
	expr, err := assertion.Parse(exprSrc)
	if err != nil {
		return "unavailable"
	}
	v, ok := snap.Lookup(expr.Ident)
	if !ok {
		return expr.Ident + " missing"
	}
	return fmt.Sprintf("%s = %s", expr.Ident, v)
}
