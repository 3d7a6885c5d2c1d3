package runner

import (
	"fmt"
	"time"
)

// Status is the terminal state of one test execution.
type Status string

// Terminal statuses.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// FailureKind categorizes a recorded failure reason.
type FailureKind string

// Failure kinds. Assertion and artifact failures accumulate; the rest
// abort the test.
const (
	KindAssertionFailed FailureKind = "AssertionFailed"
	KindUnknownVariable FailureKind = "UnknownVariableError"
	KindTypeMismatch    FailureKind = "TypeMismatchError"
	KindInputResolution FailureKind = "InputResolutionError"
	KindArtifactIO      FailureKind = "ArtifactIOError"
	KindStateTransfer   FailureKind = "StateTransferError"
	KindEmulatorLaunch  FailureKind = "EmulatorLaunchError"
	KindEmulatorCrash   FailureKind = "EmulatorCrash"
	KindTimeout         FailureKind = "Timeout"
	KindSpecInvalid     FailureKind = "SpecValidationError"
	KindSpecParse       FailureKind = "SpecParseError"
)

// Failure is one recorded failure reason, tied to the step and frame it
// occurred at. Step is -1 for failures not attributable to a step
// (launch errors, crashes, timeouts).
type Failure struct {
	Step    int         `json:"step"`
	Frame   int64       `json:"frame"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f Failure) String() string {
	if f.Step >= 0 {
		return fmt.Sprintf("step %d @ frame %d: %s: %s", f.Step, f.Frame, f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// TestResult is the immutable outcome of one test execution. Produced
// exactly once per test and never mutated after being handed to the
// suite orchestrator.
type TestResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Frames    int64         `json:"frames"`
	Failures  []Failure     `json:"failures,omitempty"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

// Reasons renders the ordered failure reasons as strings.
func (r *TestResult) Reasons() []string {
	out := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = f.String()
	}
	return out
}
