// Package suite discovers test specs and runs them as one aggregated
// suite, sequentially or with a bounded worker pool.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"frametest/internal/runner"
	"frametest/internal/spec"
)

// Options configures a suite run.
type Options struct {
	// Launch starts backend sessions; shared by all tests in the run.
	Launch runner.Launcher

	// Profile is the input profile active for every test.
	Profile *spec.Profile

	// OutDir is the root artifact directory. Each test gets its own
	// slugged subdirectory; concurrent tests never share paths.
	OutDir string

	// Parallel bounds concurrent sessions. Values below 1 mean
	// sequential execution.
	Parallel int

	// SettleFrames, Headless and Video pass through to each test runner.
	SettleFrames int64
	Headless     bool
	Video        bool

	Logger *slog.Logger
}

// SuiteResult aggregates one run. Results preserve discovery order
// regardless of which worker finished first.
type SuiteResult struct {
	RunID     string              `json:"run_id"`
	Suite     string              `json:"suite"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Results   []runner.TestResult `json:"results"`

	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errored  int `json:"errored"`
	TimedOut int `json:"timed_out"`
}

// Total returns the number of executed tests.
func (s *SuiteResult) Total() int { return len(s.Results) }

// AllPassed reports whether every executed test passed.
func (s *SuiteResult) AllPassed() bool {
	return s.Failed == 0 && s.Errored == 0 && s.TimedOut == 0
}

// Discover lists the spec documents in a suite directory, sorted by
// file name for a stable execution order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read suite directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no spec documents (*.yaml) in %s", dir)
	}
	return paths, nil
}

// Run executes all specs and assembles the aggregate result.
//
// One test's failure never prevents siblings from running: spec load
// errors become error results for that test alone, and each test owns an
// isolated session and artifact directory. Results flow through a single
// channel and are assembled only after every worker reports.
func Run(ctx context.Context, name string, specPaths []string, opts Options) *SuiteResult {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	runID := newRunID()
	start := time.Now()
	logger.Info("suite starting",
		"suite", name,
		"run_id", runID,
		"tests", len(specPaths),
		"parallel", parallel,
	)

	type indexed struct {
		idx int
		res *runner.TestResult
	}
	results := make(chan indexed)

	var wg sync.WaitGroup
	sem := make(chan struct{}, parallel)
	for i, path := range specPaths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- indexed{idx: idx, res: runOne(ctx, path, opts, logger)}
		}(i, path)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single accumulation point: the channel is the only place worker
	// outputs meet, and ordering is restored by index afterwards.
	ordered := make([]*runner.TestResult, len(specPaths))
	for r := range results {
		ordered[r.idx] = r.res
	}

	agg := &SuiteResult{
		RunID:     runID,
		Suite:     name,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	for _, r := range ordered {
		agg.Results = append(agg.Results, *r)
		switch r.Status {
		case runner.StatusPassed:
			agg.Passed++
		case runner.StatusFailed:
			agg.Failed++
		case runner.StatusTimeout:
			agg.TimedOut++
		default:
			agg.Errored++
		}
	}

	logger.Info("suite finished",
		"suite", name,
		"run_id", runID,
		"passed", agg.Passed,
		"failed", agg.Failed,
		"errored", agg.Errored,
		"timed_out", agg.TimedOut,
		"duration", agg.Duration,
	)
	return agg
}

// runOne loads and executes a single spec, converting load failures into
// error results so siblings keep running.
func runOne(ctx context.Context, path string, opts Options, logger *slog.Logger) *runner.TestResult {
	ts, err := spec.Load(path)
	if err != nil {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		kind := runner.KindSpecInvalid
		if _, isParse := err.(*spec.ParseError); isParse {
			kind = runner.KindSpecParse
		}
		return &runner.TestResult{
			Name:     name,
			Status:   runner.StatusError,
			Failures: []runner.Failure{{Step: -1, Kind: kind, Message: err.Error()}},
		}
	}

	return runner.Run(ctx, ts, runner.Options{
		Launch:       opts.Launch,
		Profile:      opts.Profile,
		ArtifactDir:  filepath.Join(opts.OutDir, Slug(ts.Name)),
		SettleFrames: opts.SettleFrames,
		Headless:     opts.Headless,
		Video:        opts.Video,
		Logger:       logger,
	})
}

// newRunID returns a UUIDv7 so run IDs sort by creation time.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Slug converts a test name into a filesystem-safe directory name.
// Names are NFC-normalized first so visually identical names from
// differently-composed spec files land in the same directory.
func Slug(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
