package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBrowserTimeout bounds a browser-driven tool invocation, which
// needs longer than plain unit runs but far less than load tests.
const DefaultBrowserTimeout = 5 * time.Minute

// browserReport mirrors the tool's JSON reporter output. Suites nest
// arbitrarily deep; specs only appear at the leaves.
type browserReport struct {
	Suites []browserSuite `json:"suites"`
}

type browserSuite struct {
	Title  string         `json:"title"`
	Suites []browserSuite `json:"suites"`
	Specs  []browserSpec  `json:"specs"`
}

type browserSpec struct {
	Title string `json:"title"`
	Ok    bool   `json:"ok"`
	Tests []struct {
		Results []browserSpecResult `json:"results"`
	} `json:"tests"`
}

type browserSpecResult struct {
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
	Error    *struct {
		Message string `json:"message"`
		Stack   string `json:"stack"`
	} `json:"error"`
}

type browserAdapter struct {
	log logrus.FieldLogger
	cfg ToolConfig
}

// NewBrowserAdapter creates the adapter for browser-driven test files.
// Each invocation gets an isolated scratch directory (removed on every
// exit path) and a randomized remote-debugging port so concurrent runs
// cannot collide.
func NewBrowserAdapter(log logrus.FieldLogger, cfg ToolConfig) Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultBrowserTimeout
	}

	return &browserAdapter{
		log: log.WithField("component", "runner.browser"),
		cfg: cfg,
	}
}

func (a *browserAdapter) Category() Category {
	return CategoryBrowser
}

func (a *browserAdapter) Run(
	ctx context.Context, filePath string, cases []Case,
) ([]CaseResult, error) {
	scratchDir, err := os.MkdirTemp("", "qaforge-browser-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	defer func() {
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			a.log.WithError(rmErr).Warn("Failed to remove scratch directory")
		}
	}()

	reportPath := filepath.Join(scratchDir, "report.json")
	debugPort := 20000 + rand.Intn(20000)

	out, err := a.invoke(ctx, filePath, scratchDir, reportPath, debugPort)
	if err != nil {
		return allFailed(cases, "browser tool failed to start: "+err.Error(), out.combined()), nil
	}

	if out.timedOut {
		a.log.WithField("file", filePath).Warn("Browser tool timed out")

		return allFailed(cases, "browser tool timed out", out.combined()), nil
	}

	// Non-zero exit means some spec failed; the report is still valid
	// and is parsed exactly like the success path.
	report, parseErr := readBrowserReport(reportPath, out.stdout)
	if parseErr != nil {
		a.log.WithError(parseErr).WithField("file", filePath).
			Warn("Browser tool produced no parseable report")

		return allFailed(cases, "browser tool produced no parseable report", out.combined()), nil
	}

	return matchBrowserResults(cases, report), nil
}

// invoke runs the tool with its JSON reporter writing into the scratch
// directory.
func (a *browserAdapter) invoke(
	ctx context.Context,
	filePath, scratchDir, reportPath string,
	debugPort int,
) (commandOutput, error) {
	return runCommand(
		ctx, a.cfg.Timeout, "",
		a.cfg.Binary, "test", filePath,
		"--reporter=json",
		"--output", scratchDir,
		fmt.Sprintf("--remote-debugging-port=%d", debugPort),
		"--report-file", reportPath,
	)
}

// readBrowserReport loads the JSON report, preferring the report file
// and falling back to stdout for reporter setups that print instead.
func readBrowserReport(reportPath, stdout string) (*browserReport, error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		data = []byte(stdout)
	}

	if len(data) == 0 {
		return nil, errNoReport
	}

	var report browserReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	return &report, nil
}

// flattenSpecs collects every spec from an arbitrarily nested suite
// tree into a single list.
func flattenSpecs(suites []browserSuite) []browserSpec {
	var specs []browserSpec

	for _, suite := range suites {
		specs = append(specs, suite.Specs...)
		specs = append(specs, flattenSpecs(suite.Suites)...)
	}

	return specs
}

// matchBrowserResults maps each requested case to a reported spec by
// exact title, taking the first test's first result as the verdict.
func matchBrowserResults(cases []Case, report *browserReport) []CaseResult {
	specs := flattenSpecs(report.Suites)

	byTitle := make(map[string]browserSpec, len(specs))
	available := make(map[string]struct{}, len(specs))

	for _, spec := range specs {
		byTitle[spec.Title] = spec
		available[spec.Title] = struct{}{}
	}

	results := make([]CaseResult, 0, len(cases))

	for _, c := range cases {
		spec, ok := byTitle[c.Title]
		if !ok {
			results = append(results, CaseResult{
				CaseID:       c.ID,
				Status:       StatusFailed,
				ErrorMessage: unmatchedMessage(c.Title, available),
			})

			continue
		}

		results = append(results, specResult(c.ID, spec))
	}

	return results
}

// specResult converts one reported spec into a normalized case result.
func specResult(caseID string, spec browserSpec) CaseResult {
	result := CaseResult{CaseID: caseID, Status: StatusFailed}

	if len(spec.Tests) == 0 || len(spec.Tests[0].Results) == 0 {
		result.ErrorMessage = fmt.Sprintf("spec %q has no recorded results", spec.Title)

		return result
	}

	r := spec.Tests[0].Results[0]
	result.DurationMS = int64(r.Duration)

	switch r.Status {
	case "passed":
		result.Status = StatusPassed
	case "skipped":
		result.Status = StatusSkipped
	default:
		result.Status = StatusFailed
		if r.Error != nil {
			result.ErrorMessage = r.Error.Message
			result.ErrorStack = r.Error.Stack
		} else if !spec.Ok {
			result.ErrorMessage = fmt.Sprintf("spec %q failed", spec.Title)
		}
	}

	return result
}
