package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frametest/internal/emu"
	"frametest/internal/spec"
)

func testProfile() *spec.Profile {
	players := make([]spec.PlayerMapping, 0, 4)
	for p := 1; p <= 4; p++ {
		players = append(players, spec.PlayerMapping{
			Player: p,
			Mapping: map[string]string{
				"button_start": fmt.Sprintf("KEY_%d", p),
				"button_a":     fmt.Sprintf("KEY_A%d", p),
			},
		})
	}
	return &spec.Profile{Name: "test", Players: players}
}

// joinFake returns a fake whose player_count tracks distinct players
// that pressed start, mimicking a lobby join screen.
func joinFake(rate float64) *emu.Fake {
	f := emu.NewFake(rate, map[string]emu.Value{"player_count": emu.IntValue(0)})
	joined := map[int]bool{}
	f.OnInput = func(state map[string]emu.Value, player int, control string, pressed bool) {
		if control == "button_start" && pressed && !joined[player] {
			joined[player] = true
			state["player_count"] = emu.IntValue(int64(len(joined)))
		}
	}
	return f
}

func launchWith(f *emu.Fake) Launcher {
	return func(cfg emu.LaunchConfig) (emu.Session, error) { return f, nil }
}

func newSpec(name string, timeout int, steps ...spec.Step) *spec.TestSpec {
	return &spec.TestSpec{Name: name, GameFile: "game.bin", Timeout: timeout, Steps: steps}
}

func runWith(t *testing.T, ts *spec.TestSpec, f *emu.Fake, settle int64) *TestResult {
	t.Helper()
	return Run(context.Background(), ts, Options{
		Launch:       launchWith(f),
		Profile:      testProfile(),
		ArtifactDir:  t.TempDir(),
		SettleFrames: settle,
	})
}

func TestRun_FourPlayerJoin(t *testing.T) {
	ts := newSpec("4-player-join", 10,
		spec.Step{Action: spec.ActionInput, Frame: 100, Value: "P1_START"},
		spec.Step{Action: spec.ActionAssert, Frame: 151, Value: "player_count == 1"},
		spec.Step{Action: spec.ActionInput, Frame: 200, Value: "P2_START"},
		spec.Step{Action: spec.ActionAssert, Frame: 251, Value: "player_count == 2"},
		spec.Step{Action: spec.ActionInput, Frame: 300, Value: "P3_START"},
		spec.Step{Action: spec.ActionAssert, Frame: 351, Value: "player_count == 3"},
		spec.Step{Action: spec.ActionInput, Frame: 400, Value: "P4_START"},
		spec.Step{Action: spec.ActionAssert, Frame: 451, Value: "player_count == 4"},
	)

	res := runWith(t, ts, joinFake(60), 0)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Empty(t, res.Failures)
	assert.Equal(t, int64(451), res.Frames)
}

func TestRun_DispatchExactlyOnceInDeclarationOrder(t *testing.T) {
	f := emu.NewFake(60, nil)
	var order []string
	f.OnInput = func(state map[string]emu.Value, player int, control string, pressed bool) {
		order = append(order, fmt.Sprintf("P%d_%s", player, control))
	}

	// Two steps tie at frame 5; the last step targets an EARLIER frame
	// than its predecessors and must still dispatch last.
	ts := newSpec("ordering", 10,
		spec.Step{Action: spec.ActionInput, Frame: 5, Value: "P1_START"},
		spec.Step{Action: spec.ActionInput, Frame: 5, Value: "P2_START"},
		spec.Step{Action: spec.ActionInput, Frame: 5, Value: "P1_A"},
		spec.Step{Action: spec.ActionInput, Frame: 3, Value: "P2_A"},
	)

	res := runWith(t, ts, f, 0)
	require.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, []string{
		"P1_button_start",
		"P2_button_start",
		"P1_button_a",
		"P2_button_a",
	}, order)
}

func TestRun_NeverDispatchesBeforeTargetFrame(t *testing.T) {
	f := emu.NewFake(60, nil)
	// flag only exists from frame 10 on; an earlier dispatch would see
	// an unknown variable and fail.
	f.StateScript = map[int64]map[string]emu.Value{
		10: {"flag": emu.BoolValue(true)},
	}

	ts := newSpec("at-frame", 10,
		spec.Step{Action: spec.ActionAssert, Frame: 10, Value: "flag == true"},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, int64(10), res.Frames)
}

func TestRun_AssertFailureRecordsAndContinues(t *testing.T) {
	f := emu.NewFake(60, map[string]emu.Value{"stage": emu.StringValue("title")})

	ts := newSpec("diagnostics", 10,
		spec.Step{Action: spec.ActionAssert, Frame: 1, Value: "missing_var == 1"},
		spec.Step{Action: spec.ActionAssert, Frame: 2, Value: `stage == "game"`},
		spec.Step{Action: spec.ActionAssert, Frame: 3, Value: `stage < "zzz"`},
		spec.Step{Action: spec.ActionAssert, Frame: 4, Value: `stage == "title"`},
		spec.Step{Action: spec.ActionLog, Frame: 5, Value: "reached the end"},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusFailed, res.Status)

	// Every broken invariant surfaces in one run.
	require.Len(t, res.Failures, 3)
	assert.Equal(t, KindUnknownVariable, res.Failures[0].Kind)
	assert.Equal(t, KindAssertionFailed, res.Failures[1].Kind)
	assert.Equal(t, KindTypeMismatch, res.Failures[2].Kind)

	// The LOG step still ran and produced its artifact.
	require.Len(t, res.Artifacts, 1)
	assert.Contains(t, res.Artifacts[0], "test.log")
}

func TestRun_UnresolvableInputAborts(t *testing.T) {
	f := joinFake(60)
	ts := newSpec("bad-input", 10,
		spec.Step{Action: spec.ActionInput, Frame: 1, Value: "P1_BOGUS"},
		spec.Step{Action: spec.ActionAssert, Frame: 2, Value: "player_count == 1"},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Failures, 1, "later steps must not dispatch")
	assert.Equal(t, KindInputResolution, res.Failures[0].Kind)
	assert.Equal(t, 0, res.Failures[0].Step)
}

func TestRun_ScreenshotFailureIsNonFatal(t *testing.T) {
	f := emu.NewFake(60, nil)
	f.FailScreenshots = true

	ts := newSpec("shot", 10,
		spec.Step{Action: spec.ActionScreenshot, Frame: 1, Value: "title.png"},
		spec.Step{Action: spec.ActionWait, Frame: 2},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusPassed, res.Status, "artifact loss alone must not fail the test")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindArtifactIO, res.Failures[0].Kind)
	assert.Empty(t, res.Artifacts)
}

func TestRun_ScreenshotArtifactRecorded(t *testing.T) {
	f := emu.NewFake(60, nil)
	ts := newSpec("shot-ok", 10,
		spec.Step{Action: spec.ActionScreenshot, Frame: 1, Value: "title.png"},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusPassed, res.Status)
	require.Len(t, res.Artifacts, 1)
	assert.Contains(t, res.Artifacts[0], "title.png")
}

func TestRun_SaveLoadRoundTrip(t *testing.T) {
	f := emu.NewFake(60, map[string]emu.Value{"lives": emu.IntValue(3)})
	ts := newSpec("roundtrip", 10,
		spec.Step{Action: spec.ActionStateSave, Frame: 1, Value: "slot1"},
		spec.Step{Action: spec.ActionStateLoad, Frame: 2, Value: "slot1"},
		spec.Step{Action: spec.ActionAssert, Frame: 3, Value: "lives == 3"},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Empty(t, res.Failures)
}

func TestRun_StateLoadFailureIsFatal(t *testing.T) {
	f := emu.NewFake(60, nil)
	ts := newSpec("bad-slot", 10,
		spec.Step{Action: spec.ActionStateLoad, Frame: 1, Value: "never-saved"},
		spec.Step{Action: spec.ActionWait, Frame: 2},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindStateTransfer, res.Failures[0].Kind)
}

func TestRun_TimeoutBeforeCompletion(t *testing.T) {
	f := emu.NewFake(10, nil) // 10fps: timeout 1s = 10 frame budget
	ts := newSpec("slow", 1,
		spec.Step{Action: spec.ActionWait, Frame: 100},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusTimeout, res.Status)
	require.NotEmpty(t, res.Failures)
	assert.Equal(t, KindTimeout, res.Failures[0].Kind)
	assert.Equal(t, int64(10), res.Frames)
}

func TestRun_EmulatorCrashReportsError(t *testing.T) {
	f := emu.NewFake(60, nil)
	f.CrashAtFrame = 5
	ts := newSpec("crash", 10,
		spec.Step{Action: spec.ActionWait, Frame: 100},
	)

	res := runWith(t, ts, f, 0)
	assert.Equal(t, StatusError, res.Status)
	require.NotEmpty(t, res.Failures)
	assert.Equal(t, KindEmulatorCrash, res.Failures[0].Kind)
}

func TestRun_LaunchFailureReportsError(t *testing.T) {
	ts := newSpec("no-emu", 10)
	res := Run(context.Background(), ts, Options{
		Launch: func(cfg emu.LaunchConfig) (emu.Session, error) {
			return nil, &emu.LaunchError{Backend: "process", Reason: "binary missing"}
		},
		ArtifactDir: t.TempDir(),
	})

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindEmulatorLaunch, res.Failures[0].Kind)
}

func TestRun_SettleFramesExtendRun(t *testing.T) {
	f := emu.NewFake(60, nil)
	ts := newSpec("settle", 10,
		spec.Step{Action: spec.ActionWait, Frame: 3},
	)

	res := runWith(t, ts, f, 5)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, int64(8), res.Frames)
}

func TestRun_NoProfileFailsInputSteps(t *testing.T) {
	f := emu.NewFake(60, nil)
	ts := newSpec("no-profile", 10,
		spec.Step{Action: spec.ActionInput, Frame: 1, Value: "P1_START"},
	)

	res := Run(context.Background(), ts, Options{
		Launch:      launchWith(f),
		ArtifactDir: t.TempDir(),
	})
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindInputResolution, res.Failures[0].Kind)
}
