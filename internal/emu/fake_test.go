package emu

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_RunStopsOnFalse(t *testing.T) {
	f := NewFake(60, nil)

	var frames []int64
	err := f.Run(context.Background(), func(frame int64) (bool, error) {
		frames = append(frames, frame)
		return frame < 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, frames)
}

func TestFake_SnapshotIsFresh(t *testing.T) {
	f := NewFake(60, map[string]Value{"score": IntValue(0)})

	first, err := f.QuerySnapshot()
	require.NoError(t, err)

	require.NoError(t, f.InjectInput(1, "button_a", true))
	f.OnInput = func(state map[string]Value, player int, control string, pressed bool) {
		state["score"] = IntValue(10)
	}
	require.NoError(t, f.InjectInput(1, "button_a", true))

	second, err := f.QuerySnapshot()
	require.NoError(t, err)

	assert.Equal(t, IntValue(0), first["score"], "earlier snapshot must not see later writes")
	assert.Equal(t, IntValue(10), second["score"])
}

func TestFake_SaveLoadRoundTrip(t *testing.T) {
	f := NewFake(60, map[string]Value{"lives": IntValue(3)})

	require.NoError(t, f.SaveState("checkpoint"))
	f.OnInput = func(state map[string]Value, player int, control string, pressed bool) {
		state["lives"] = IntValue(0)
	}
	require.NoError(t, f.InjectInput(1, "button_a", true))
	require.NoError(t, f.LoadState("checkpoint"))

	snap, err := f.QuerySnapshot()
	require.NoError(t, err)
	assert.Equal(t, IntValue(3), snap["lives"])

	require.Error(t, f.LoadState("no-such-slot"))
}

func TestFake_CrashAtFrame(t *testing.T) {
	f := NewFake(60, nil)
	f.CrashAtFrame = 3

	var last int64
	err := f.Run(context.Background(), func(frame int64) (bool, error) {
		last = frame
		return true, nil
	})

	var crash *CrashError
	require.ErrorAs(t, err, &crash)
	assert.Equal(t, int64(3), crash.Frame)
	assert.Equal(t, int64(2), last, "callback must not fire for the crashed frame")
}

func TestFake_Screenshot(t *testing.T) {
	f := NewFake(60, nil)
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, f.CaptureScreenshot(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	f.FailScreenshots = true
	assert.Error(t, f.CaptureScreenshot(path))
}

func TestFake_TerminateIdempotent(t *testing.T) {
	f := NewFake(60, nil)
	require.NoError(t, f.Terminate())
	require.NoError(t, f.Terminate())

	err := f.Run(context.Background(), func(int64) (bool, error) { return true, nil })
	require.NoError(t, err, "terminated session must not step")
}

func TestLaunchProcess_MissingBinary(t *testing.T) {
	_, err := LaunchProcess("frametest-definitely-missing-emulator", LaunchConfig{GameFile: "g.bin"})

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "process", launchErr.Backend)
}

func TestValueFromAny(t *testing.T) {
	tests := []struct {
		raw  any
		want Value
	}{
		{true, BoolValue(true)},
		{"title", StringValue("title")},
		{float64(4), IntValue(4)}, // whole JSON numbers narrow to int
		{float64(4.5), FloatValue(4.5)},
		{int(7), IntValue(7)},
	}
	for _, tt := range tests {
		got, err := ValueFromAny(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ValueFromAny([]string{"no"})
	require.Error(t, err)
}
