package runner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultUnitTimeout bounds a single unit/integration tool invocation.
const DefaultUnitTimeout = 2 * time.Minute

// unitReport mirrors the tool's --json output. Only the fields the
// adapter consumes are declared.
type unitReport struct {
	TestResults []struct {
		AssertionResults []unitAssertion `json:"assertionResults"`
	} `json:"testResults"`
}

type unitAssertion struct {
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Duration        *float64 `json:"duration"`
	FailureMessages []string `json:"failureMessages"`
}

type unitAdapter struct {
	log logrus.FieldLogger
	cfg ToolConfig
}

// NewUnitAdapter creates the adapter for fast non-UI test files. The
// tool is invoked in JSON-report mode against exactly one target file.
func NewUnitAdapter(log logrus.FieldLogger, cfg ToolConfig) Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultUnitTimeout
	}

	return &unitAdapter{
		log: log.WithField("component", "runner.unit"),
		cfg: cfg,
	}
}

func (a *unitAdapter) Category() Category {
	return CategoryUnit
}

func (a *unitAdapter) Run(
	ctx context.Context, filePath string, cases []Case,
) ([]CaseResult, error) {
	out, err := runCommand(
		ctx, a.cfg.Timeout, "",
		a.cfg.Binary, "--json", "--runTestsByPath", filePath,
	)
	if err != nil {
		return allFailed(cases, "test tool failed to start: "+err.Error(), out.combined()), nil
	}

	if out.timedOut {
		a.log.WithField("file", filePath).Warn("Unit tool timed out")

		return allFailed(cases, "test tool timed out", out.combined()), nil
	}

	// The tool exits non-zero whenever any test fails; its JSON report
	// is still complete, so both exit paths parse identically.
	report, parseErr := parseUnitReport(out.stdout)
	if parseErr != nil {
		a.log.WithError(parseErr).WithField("file", filePath).
			Warn("Unit tool produced no parseable report")

		return allFailed(cases, "test tool produced no parseable report", out.combined()), nil
	}

	return matchUnitResults(cases, report), nil
}

// parseUnitReport decodes the JSON report from the tool's stdout. The
// tool may print warnings before the report, so decoding starts at the
// first '{'.
func parseUnitReport(stdout string) (*unitReport, error) {
	start := strings.Index(stdout, "{")
	if start < 0 {
		return nil, errNoReport
	}

	var report unitReport
	if err := json.Unmarshal([]byte(stdout[start:]), &report); err != nil {
		return nil, err
	}

	if len(report.TestResults) == 0 {
		return nil, errNoReport
	}

	return &report, nil
}

// matchUnitResults maps each requested case to a reported assertion by
// exact title. Unmatched cases are failed with a diagnostic listing the
// available titles.
func matchUnitResults(cases []Case, report *unitReport) []CaseResult {
	byTitle := make(map[string]unitAssertion, len(report.TestResults[0].AssertionResults))
	available := make(map[string]struct{}, len(byTitle))

	for _, assertion := range report.TestResults[0].AssertionResults {
		byTitle[assertion.Title] = assertion
		available[assertion.Title] = struct{}{}
	}

	results := make([]CaseResult, 0, len(cases))

	for _, c := range cases {
		assertion, ok := byTitle[c.Title]
		if !ok {
			results = append(results, CaseResult{
				CaseID:       c.ID,
				Status:       StatusFailed,
				ErrorMessage: unmatchedMessage(c.Title, available),
			})

			continue
		}

		result := CaseResult{CaseID: c.ID}

		if assertion.Duration != nil {
			result.DurationMS = int64(*assertion.Duration)
		}

		switch assertion.Status {
		case "passed":
			result.Status = StatusPassed
		case "pending", "skipped", "todo", "disabled":
			result.Status = StatusSkipped
		default:
			result.Status = StatusFailed
			result.ErrorMessage = strings.Join(assertion.FailureMessages, "\n")
		}

		results = append(results, result)
	}

	return results
}
