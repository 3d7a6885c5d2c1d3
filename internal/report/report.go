// Package report renders aggregated suite results: a line-delimited JSON
// artifact for machines and a plain-text summary for humans, both derived
// from the same data.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"frametest/internal/runner"
	"frametest/internal/suite"
)

// line is one JSONL record. The first line of a report is the suite
// header (type "suite"); each following line is one test.
type line struct {
	Type      string   `json:"type"`
	RunID     string   `json:"run_id,omitempty"`
	Suite     string   `json:"suite,omitempty"`
	StartedAt string   `json:"started_at,omitempty"`
	Name      string   `json:"name,omitempty"`
	Status    string   `json:"status,omitempty"`
	Duration  string   `json:"duration,omitempty"`
	Frames    int64    `json:"frames,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Passed    int      `json:"passed,omitempty"`
	Failed    int      `json:"failed,omitempty"`
	Errored   int      `json:"errored,omitempty"`
	TimedOut  int      `json:"timed_out,omitempty"`
	Total     int      `json:"total,omitempty"`
}

// WriteJSONL writes the machine-readable report.
func WriteJSONL(w io.Writer, res *suite.SuiteResult) error {
	enc := json.NewEncoder(w)
	header := line{
		Type:      "suite",
		RunID:     res.RunID,
		Suite:     res.Suite,
		StartedAt: res.StartedAt.UTC().Format(time.RFC3339),
		Duration:  res.Duration.Round(time.Millisecond).String(),
		Passed:    res.Passed,
		Failed:    res.Failed,
		Errored:   res.Errored,
		TimedOut:  res.TimedOut,
		Total:     res.Total(),
	}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("write suite header: %w", err)
	}
	for i := range res.Results {
		r := &res.Results[i]
		rec := line{
			Type:      "test",
			Name:      r.Name,
			Status:    string(r.Status),
			Duration:  r.Duration.Round(time.Millisecond).String(),
			Frames:    r.Frames,
			Reasons:   r.Reasons(),
			Artifacts: r.Artifacts,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write test %s: %w", r.Name, err)
		}
	}
	return nil
}

// WriteText writes the human-readable rendering of the same data.
func WriteText(w io.Writer, res *suite.SuiteResult) error {
	fmt.Fprintf(w, "Suite: %s (run %s)\n", res.Suite, res.RunID)
	fmt.Fprintf(w, "%d tests: %d passed, %d failed, %d errored, %d timed out in %s\n\n",
		res.Total(), res.Passed, res.Failed, res.Errored, res.TimedOut,
		res.Duration.Round(time.Millisecond))

	for i := range res.Results {
		r := &res.Results[i]
		fmt.Fprintf(w, "%-8s %s (%d frames, %s)\n",
			statusBadge(r.Status), r.Name, r.Frames, r.Duration.Round(time.Millisecond))
		for _, reason := range r.Reasons() {
			fmt.Fprintf(w, "         - %s\n", reason)
		}
		for _, a := range r.Artifacts {
			fmt.Fprintf(w, "         * %s\n", a)
		}
	}
	return nil
}

func statusBadge(s runner.Status) string {
	switch s {
	case runner.StatusPassed:
		return "PASS"
	case runner.StatusFailed:
		return "FAIL"
	case runner.StatusTimeout:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// Snapshot renders a result with volatile fields (run ID, timestamps,
// durations) zeroed, for golden-file comparison in tests.
func Snapshot(res *suite.SuiteResult) *suite.SuiteResult {
	clone := *res
	clone.RunID = "RUN_ID"
	clone.StartedAt = time.Time{}
	clone.Duration = 0
	clone.Results = make([]runner.TestResult, len(res.Results))
	for i, r := range res.Results {
		r.Duration = 0
		clone.Results[i] = r
	}
	return &clone
}
