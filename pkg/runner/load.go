package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLoadTimeout bounds a load-test invocation. Load tests run
	// far longer than any other category.
	DefaultLoadTimeout = 15 * time.Minute

	// loadProbeTimeout bounds the cheap version probe used to detect a
	// missing tool binary before attempting the real run.
	loadProbeTimeout = 10 * time.Second

	// loadMissingToolMessage is the fixed diagnostic attached to every
	// case when the load-test binary is not installed.
	loadMissingToolMessage = "load test tool is not installed; install it to run performance tests"

	// thresholdFailureMarker appears in the tool's output when any
	// configured threshold was breached.
	thresholdFailureMarker = "some thresholds have failed"
)

type loadAdapter struct {
	log logrus.FieldLogger
	cfg ToolConfig
}

// NewLoadAdapter creates the adapter for load/performance test files.
// The tool reports no structured per-case data: every case in the file
// shares the single pass/fail outcome of the run, decided by scanning
// the combined output for failure markers.
func NewLoadAdapter(log logrus.FieldLogger, cfg ToolConfig) Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLoadTimeout
	}

	return &loadAdapter{
		log: log.WithField("component", "runner.load"),
		cfg: cfg,
	}
}

func (a *loadAdapter) Category() Category {
	return CategoryLoad
}

func (a *loadAdapter) Run(
	ctx context.Context, filePath string, cases []Case,
) ([]CaseResult, error) {
	if !a.toolInstalled(ctx) {
		a.log.WithField("binary", a.cfg.Binary).Warn("Load test tool not installed")

		return allFailed(cases, loadMissingToolMessage, ""), nil
	}

	// The summary export lands in a throwaway file; only the combined
	// output decides the outcome.
	summaryPath := filepath.Join(
		os.TempDir(), "qaforge-load-"+uuid.NewString()+".json",
	)
	defer func() { _ = os.Remove(summaryPath) }()

	started := time.Now()

	out, err := runCommand(
		ctx, a.cfg.Timeout, "",
		a.cfg.Binary, "run", "--summary-export", summaryPath, filePath,
	)
	if err != nil {
		return allFailed(cases, "load test tool failed to start: "+err.Error(), out.combined()), nil
	}

	elapsed := time.Since(started).Milliseconds()

	if out.timedOut {
		return allFailed(cases, "load test timed out", out.combined()), nil
	}

	combined := out.combined()
	failed := strings.Contains(combined, thresholdFailureMarker) ||
		strings.Contains(combined, "level=error")

	status := StatusPassed

	var message string

	if failed {
		status = StatusFailed
		message = "load test thresholds failed"
	}

	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, CaseResult{
			CaseID:       c.ID,
			Status:       status,
			DurationMS:   elapsed,
			ErrorMessage: message,
			RawLog:       combined,
		})
	}

	return results, nil
}

// toolInstalled probes the binary with a version query.
func (a *loadAdapter) toolInstalled(ctx context.Context) bool {
	out, err := runCommand(ctx, loadProbeTimeout, "", a.cfg.Binary, "version")

	return err == nil && out.exitCode == 0
}
