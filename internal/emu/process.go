package emu

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultFrameRate is assumed when the emulator's handshake does not
// report a rate. Matches the 60Hz video standard of the supported cores.
const DefaultFrameRate = 60.0

// command is one control message written to the emulator's stdin.
type command struct {
	Cmd     string `json:"cmd"`
	Player  int    `json:"player,omitempty"`
	Control string `json:"control,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`
	Path    string `json:"path,omitempty"`
	Slot    string `json:"slot,omitempty"`
}

// reply is one response line read from the emulator's stdout.
type reply struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	Frame int64          `json:"frame,omitempty"`
	FPS   float64        `json:"fps,omitempty"`
	State map[string]any `json:"state,omitempty"`
}

// ProcessSession drives an external emulator binary over a line-delimited
// JSON protocol on stdin/stdout. One command is always answered by
// exactly one reply line; an unexpected EOF means the emulator died.
type ProcessSession struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	replies   *bufio.Scanner
	enc       *json.Encoder
	frameRate float64
	frame     int64

	termOnce sync.Once
	termErr  error
}

// LaunchProcess starts the emulator binary with the given config and
// performs the handshake. The emulator must print a single
// {"ok":true,"fps":N} line once it has booted the game file.
func LaunchProcess(binary string, cfg LaunchConfig) (*ProcessSession, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, &LaunchError{Backend: "process", Reason: fmt.Sprintf("emulator binary %q not found", binary), Err: err}
	}

	args := []string{"--control", "stdio", "--game", cfg.GameFile}
	if cfg.Savestate != "" {
		args = append(args, "--savestate", cfg.Savestate)
	}
	if cfg.Headless {
		args = append(args, "--headless")
	}
	if cfg.Video {
		args = append(args, "--video")
	}

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Backend: "process", Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Backend: "process", Reason: "stdout pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Backend: "process", Reason: "start", Err: err}
	}

	s := &ProcessSession{
		cmd:     cmd,
		stdin:   stdin,
		replies: bufio.NewScanner(stdout),
		enc:     json.NewEncoder(stdin),
	}

	// Handshake: the emulator reports readiness and its frame rate.
	// A failed handshake covers both missing firmware (emulator reports
	// ok:false) and immediate death (EOF).
	hello, err := s.readReply()
	if err != nil {
		_ = s.Terminate()
		return nil, &LaunchError{Backend: "process", Reason: "handshake", Err: err}
	}
	if !hello.OK {
		_ = s.Terminate()
		return nil, &LaunchError{Backend: "process", Reason: hello.Error}
	}
	s.frameRate = hello.FPS
	if s.frameRate <= 0 {
		s.frameRate = DefaultFrameRate
	}

	slog.Debug("emulator launched",
		"binary", path,
		"game", cfg.GameFile,
		"fps", s.frameRate,
		"pid", cmd.Process.Pid,
	)
	return s, nil
}

// FrameRate returns the rate reported by the launch handshake.
func (s *ProcessSession) FrameRate() float64 { return s.frameRate }

// Run steps frames until onFrame stops the loop or the emulator dies.
func (s *ProcessSession) Run(ctx context.Context, onFrame FrameFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := s.roundTrip(command{Cmd: "step"})
		if err != nil {
			return &CrashError{Frame: s.frame, Err: err}
		}
		s.frame = r.Frame

		cont, err := onFrame(s.frame)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// InjectInput presses or releases one control for one player.
func (s *ProcessSession) InjectInput(player int, control string, pressed bool) error {
	_, err := s.roundTrip(command{Cmd: "input", Player: player, Control: control, Pressed: pressed})
	return err
}

// QuerySnapshot reads the emulator's exported state variables.
func (s *ProcessSession) QuerySnapshot() (Snapshot, error) {
	r, err := s.roundTrip(command{Cmd: "query"})
	if err != nil {
		return nil, err
	}
	return SnapshotFromAny(r.State)
}

// CaptureScreenshot asks the emulator to write its frame buffer to path.
func (s *ProcessSession) CaptureScreenshot(path string) error {
	_, err := s.roundTrip(command{Cmd: "screenshot", Path: path})
	return err
}

// SaveState saves the machine state to a named slot.
func (s *ProcessSession) SaveState(slot string) error {
	_, err := s.roundTrip(command{Cmd: "save", Slot: slot})
	return err
}

// LoadState restores the machine state from a named slot.
func (s *ProcessSession) LoadState(slot string) error {
	_, err := s.roundTrip(command{Cmd: "load", Slot: slot})
	return err
}

// Terminate shuts the emulator down. A polite quit is attempted first;
// if the process lingers it is killed. Safe to call multiple times and
// from any goroutine.
func (s *ProcessSession) Terminate() error {
	s.termOnce.Do(func() {
		// Best effort quit; the pipe may already be broken.
		_ = s.enc.Encode(command{Cmd: "quit"})
		_ = s.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case err := <-done:
			// Normal exit or already-reaped crash; either way the
			// process is gone, which is all Terminate promises.
			if err != nil {
				slog.Debug("emulator exited", "error", err)
			}
		case <-time.After(3 * time.Second):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Signal(syscall.SIGKILL)
			}
			s.termErr = <-done
		}
	})
	return s.termErr
}

// roundTrip writes one command and reads its reply. Any transport
// failure is reported as a crash: the protocol is strictly one reply per
// command, so a short read means the process is gone.
func (s *ProcessSession) roundTrip(c command) (reply, error) {
	if err := s.enc.Encode(c); err != nil {
		return reply{}, &CrashError{Frame: s.frame, Err: err}
	}
	r, err := s.readReply()
	if err != nil {
		return reply{}, &CrashError{Frame: s.frame, Err: err}
	}
	if !r.OK {
		return reply{}, fmt.Errorf("emulator rejected %s: %s", c.Cmd, r.Error)
	}
	return r, nil
}

func (s *ProcessSession) readReply() (reply, error) {
	if !s.replies.Scan() {
		if err := s.replies.Err(); err != nil {
			return reply{}, err
		}
		return reply{}, io.ErrUnexpectedEOF
	}
	var r reply
	if err := json.Unmarshal(s.replies.Bytes(), &r); err != nil {
		return reply{}, fmt.Errorf("malformed reply %q: %w", s.replies.Text(), err)
	}
	return r, nil
}
