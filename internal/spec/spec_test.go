package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validSpec = `
name: 4-player-join
game_file: games/towerdef.bin
savestate: boot.state
timeout: 30
expected_results: all four players join the lobby
steps:
  - action: INPUT
    frame: 100
    value: P1_START
    description: player one joins
  - action: ASSERT
    frame: 151
    value: player_count == 1
  - action: WAIT
    frame: 200
`

func TestLoad_Valid(t *testing.T) {
	ts, err := Load(writeSpec(t, validSpec))
	require.NoError(t, err)

	assert.Equal(t, "4-player-join", ts.Name)
	assert.Equal(t, "games/towerdef.bin", ts.GameFile)
	assert.Equal(t, "boot.state", ts.Savestate)
	assert.Equal(t, 30, ts.Timeout)
	require.Len(t, ts.Steps, 3)
	assert.Equal(t, ActionInput, ts.Steps[0].Action)
	assert.Equal(t, int64(100), ts.Steps[0].Frame)
	assert.Equal(t, "P1_START", ts.Steps[0].Value)
	assert.Equal(t, ActionWait, ts.Steps[2].Action)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GAMES", "/opt/games")
	ts, err := Load(writeSpec(t, `
name: env
game_file: ${GAMES}/towerdef.bin
timeout: 10
steps:
  - action: WAIT
    frame: 1
`))
	require.NoError(t, err)
	assert.Equal(t, "/opt/games/towerdef.bin", ts.GameFile)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeSpec(t, "name: [unclosed"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeSpec(t, `
name: typo
game_file: g.bin
timeout: 5
step:
  - action: WAIT
    frame: 1
`))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unrecognized action", `
name: t
game_file: g.bin
timeout: 5
steps:
  - action: JUMP
    frame: 1
    value: x
`},
		{"negative frame", `
name: t
game_file: g.bin
timeout: 5
steps:
  - action: WAIT
    frame: -1
`},
		{"zero timeout", `
name: t
game_file: g.bin
timeout: 0
steps:
  - action: WAIT
    frame: 1
`},
		{"missing name", `
name: ""
game_file: g.bin
timeout: 5
steps:
  - action: WAIT
    frame: 1
`},
		{"input without value", `
name: t
game_file: g.bin
timeout: 5
steps:
  - action: INPUT
    frame: 1
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSpec(t, tt.body))
			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr, "expected validation error, got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestEnsureArtifactDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureArtifactDir("test.yaml", dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
