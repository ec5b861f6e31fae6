package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Category identifies which external tool executes a test file.
type Category string

// Supported runner categories.
const (
	CategoryUnit    Category = "unit"
	CategoryLoad    Category = "load"
	CategoryBrowser Category = "browser"
)

// ValidCategory reports whether c is a known runner category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryUnit, CategoryLoad, CategoryBrowser:
		return true
	}

	return false
}

// Case result statuses, as reported by an adapter.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Case is one catalog test case to execute, matched against the tool's
// report by exact title.
type Case struct {
	ID    string
	Title string
}

// CaseResult is one case's normalized outcome.
type CaseResult struct {
	CaseID       string
	Status       string
	DurationMS   int64
	ErrorMessage string
	ErrorStack   string
	RawLog       string
}

// Adapter invokes an external test tool against a single file and
// normalizes its native report into one result per requested case —
// never fewer. Adapters absorb tool failures into failed results; the
// error return is reserved for being unable to even attempt a verdict.
type Adapter interface {
	Category() Category
	Run(ctx context.Context, filePath string, cases []Case) ([]CaseResult, error)
}

// ToolConfig configures one external tool integration.
type ToolConfig struct {
	Binary  string
	Timeout time.Duration
}

// Registry holds one adapter per category.
type Registry struct {
	adapters map[Category]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Category]Adapter, 3)}
}

// NewDefaultRegistry creates a registry with the three standard
// adapters wired to the given tool configs.
func NewDefaultRegistry(
	log logrus.FieldLogger,
	unit, load, browser ToolConfig,
) *Registry {
	r := NewRegistry()
	r.Register(NewUnitAdapter(log, unit))
	r.Register(NewLoadAdapter(log, load))
	r.Register(NewBrowserAdapter(log, browser))

	return r
}

// Register adds an adapter, replacing any previous one for its category.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Category()] = a
}

// Get returns the adapter for the given category.
func (r *Registry) Get(c Category) (Adapter, error) {
	a, ok := r.adapters[c]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for runner category %q", c)
	}

	return a, nil
}

// errNoReport indicates the tool produced no machine-readable report.
var errNoReport = errors.New("no report found in tool output")

// commandOutput is the captured output of one tool invocation.
type commandOutput struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
}

// combined returns stdout and stderr joined for diagnostics.
func (o commandOutput) combined() string {
	if o.stderr == "" {
		return o.stdout
	}

	if o.stdout == "" {
		return o.stderr
	}

	return o.stdout + "\n" + o.stderr
}

// runCommand executes the tool with a bounded timeout and captures its
// output. A non-zero exit is NOT an error: every supported tool exits
// non-zero when any sub-test fails, and the report it produced is still
// valid and must be parsed the same as on the zero-exit path.
func runCommand(
	ctx context.Context,
	timeout time.Duration,
	dir, name string,
	args ...string,
) (commandOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := commandOutput{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		timedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.exitCode = exitErr.ExitCode()

			return out, nil
		}

		return out, fmt.Errorf("running %s: %w", name, err)
	}

	return out, nil
}

// allFailed marks every requested case failed with the same diagnostic.
func allFailed(cases []Case, message, rawLog string) []CaseResult {
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, CaseResult{
			CaseID:       c.ID,
			Status:       StatusFailed,
			ErrorMessage: message,
			RawLog:       rawLog,
		})
	}

	return results
}

// unmatchedMessage builds the diagnostic for a requested case whose
// title appears nowhere in the tool's report.
func unmatchedMessage(title string, available map[string]struct{}) string {
	titles := make([]string, 0, len(available))
	for t := range available {
		titles = append(titles, t)
	}

	sort.Strings(titles)

	return fmt.Sprintf(
		"test %q not found in report; available tests: %s",
		title, strings.Join(titles, ", "),
	)
}
