// Package spec defines the declarative test-spec and input-profile
// documents and their loaders.
//
// Loading is a three-phase pipeline: structural (strict YAML decode),
// semantic (CUE schema validation), and domain (Go rules the schema
// cannot express). A document that survives all three phases is immutable
// for the rest of the run.
package spec

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Action is the kind of a scripted step.
type Action string

// Recognized step actions.
const (
	ActionWait       Action = "WAIT"
	ActionInput      Action = "INPUT"
	ActionAssert     Action = "ASSERT"
	ActionScreenshot Action = "SCREENSHOT"
	ActionStateSave  Action = "STATE_SAVE"
	ActionStateLoad  Action = "STATE_LOAD"
	ActionLog        Action = "LOG"
)

// Step is one scripted action bound to a target frame.
//
// Frames need not be monotonic across a spec: a later-declared step may
// target an earlier frame. The scheduler dispatches strictly in
// declaration order among due steps, never resorted by frame value.
type Step struct {
	// Action selects the step kind.
	Action Action `yaml:"action" json:"action"`

	// Frame is the earliest frame at which this step may dispatch.
	Frame int64 `yaml:"frame" json:"frame"`

	// Value is the kind-specific payload: input symbol, assertion
	// expression, artifact file name, savestate slot, or log message.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Description is free text for humans. No semantic effect.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// TestSpec is one parsed test definition. Immutable once loaded.
type TestSpec struct {
	Name      string `yaml:"name" json:"name"`
	GameFile  string `yaml:"game_file" json:"game_file"`
	Savestate string `yaml:"savestate,omitempty" json:"savestate,omitempty"`

	// Timeout is the per-test budget in seconds, converted to a frame
	// budget at run time using the session's probed frame rate.
	Timeout int `yaml:"timeout" json:"timeout"`

	Steps []Step `yaml:"steps" json:"steps"`

	// ExpectedResults is informational free text, never evaluated.
	ExpectedResults string `yaml:"expected_results,omitempty" json:"expected_results,omitempty"`
}

// ParseError reports a structurally malformed spec document.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed document that violates the spec
// schema or domain rules.
type ValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid spec %s: %s: %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid spec %s: %s", e.Path, e.Message)
}

// Load reads, parses, and validates a test spec file.
//
// Environment references in game_file and savestate (${VAR}) are expanded
// at load time so the rest of the harness only sees concrete paths.
func Load(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*TestSpec, error) {
	// Phase 1: structural. Strict decode rejects unknown fields, which
	// catches typos like "step:" for "steps:".
	var ts TestSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ts); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	// Phase 2: semantic. CUE schema enforces types, enums and bounds.
	if err := validateSchema(path, &ts); err != nil {
		return nil, err
	}

	// Phase 3: domain rules.
	if err := validateDomain(path, &ts); err != nil {
		return nil, err
	}

	ts.GameFile = os.ExpandEnv(ts.GameFile)
	ts.Savestate = os.ExpandEnv(ts.Savestate)
	return &ts, nil
}

// validateDomain checks the rules the schema cannot express: per-action
// value requirements.
func validateDomain(path string, ts *TestSpec) error {
	for i, step := range ts.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		switch step.Action {
		case ActionWait:
			// Value is ignored; existence alone paces the script.
		case ActionInput, ActionAssert, ActionScreenshot, ActionStateSave, ActionStateLoad, ActionLog:
			if step.Value == "" {
				return &ValidationError{
					Path:    path,
					Field:   field,
					Message: fmt.Sprintf("%s requires a value", step.Action),
				}
			}
		default:
			return &ValidationError{
				Path:    path,
				Field:   field,
				Message: fmt.Sprintf("unrecognized action %q", step.Action),
			}
		}
		if step.Frame < 0 {
			return &ValidationError{
				Path:    path,
				Field:   field,
				Message: fmt.Sprintf("frame must be non-negative, got %d", step.Frame),
			}
		}
	}
	if ts.Timeout <= 0 {
		return &ValidationError{Path: path, Field: "timeout", Message: "must be a positive number of seconds"}
	}
	return nil
}

// EnsureArtifactDir creates the directory a test's artifacts will be
// written to. Failure is a validation error: a spec whose artifacts
// cannot land anywhere is rejected before a session is launched.
func EnsureArtifactDir(specPath, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ValidationError{Path: specPath, Field: "artifacts", Message: err.Error()}
	}
	return nil
}
