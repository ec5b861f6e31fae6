package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qaforge/qaforge/pkg/runner"
	"github.com/qaforge/qaforge/pkg/store"
)

// DefaultGroupConcurrency bounds how many file groups of one run
// execute in parallel when no explicit value is configured.
const DefaultGroupConcurrency = 4

// Dispatcher executes a run's cases through the runner adapters and
// persists the per-case outcomes. It never mutates schedules; that is
// the scanner's job.
type Dispatcher interface {
	// ExecuteRun drives one run to a terminal status.
	ExecuteRun(ctx context.Context, runID string, caseIDs []string) error

	// StopRun marks a run user-cancelled: the persisted status flips
	// to failed and outstanding results become skipped. The underlying
	// tool subprocess is NOT terminated; it runs to completion or its
	// own timeout. Best-effort cancellation only.
	StopRun(ctx context.Context, runID string) error
}

// Config for the dispatcher.
type Config struct {
	GroupConcurrency int
}

// Compile-time interface check.
var _ Dispatcher = (*dispatcher)(nil)

type dispatcher struct {
	log      logrus.FieldLogger
	store    store.Store
	registry *runner.Registry
	cfg      *Config
}

// NewDispatcher creates a new execution dispatcher.
func NewDispatcher(
	log logrus.FieldLogger,
	st store.Store,
	registry *runner.Registry,
	cfg *Config,
) Dispatcher {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.GroupConcurrency <= 0 {
		cfg.GroupConcurrency = DefaultGroupConcurrency
	}

	return &dispatcher{
		log:      log.WithField("component", "dispatcher"),
		store:    st,
		registry: registry,
		cfg:      cfg,
	}
}

// ExecuteRun marks the run running, groups its cases by source file,
// runs each group through the matching adapter and persists results.
// A failing group never aborts its siblings: adapter errors are
// absorbed into failed results for that group's cases. An error
// escaping this method leaves the run failed with untouched results
// still pending — a documented limitation, not a crash.
func (d *dispatcher) ExecuteRun(
	ctx context.Context, runID string, caseIDs []string,
) error {
	started := time.Now()

	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	run.Status = store.RunStatusRunning
	run.StartedAt = &started

	if err := d.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}

	cases, err := d.store.GetCasesByIDs(ctx, caseIDs)
	if err != nil {
		d.failRun(ctx, run, started)

		return fmt.Errorf("loading cases: %w", err)
	}

	groups := make(map[string][]store.TestCase)
	for _, c := range cases {
		groups[c.FileID] = append(groups[c.FileID], c)
	}

	var (
		mu  sync.Mutex
		all []runner.CaseResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.GroupConcurrency)

	for fileID, groupCases := range groups {
		fileID, groupCases := fileID, groupCases
		g.Go(func() error {
			results := d.runGroup(gctx, fileID, groupCases)

			mu.Lock()
			all = append(all, results...)
			mu.Unlock()

			return nil
		})
	}

	// Group goroutines absorb their own errors.
	_ = g.Wait()

	if err := d.persistResults(ctx, run, all, started); err != nil {
		d.failRun(ctx, run, started)

		return err
	}

	return nil
}

// runGroup executes all cases of one file through its adapter. Every
// failure mode collapses into failed results for the group's cases.
func (d *dispatcher) runGroup(
	ctx context.Context, fileID string, cases []store.TestCase,
) []runner.CaseResult {
	log := d.log.WithField("file_id", fileID)

	file, err := d.store.GetFile(ctx, fileID)
	if err != nil {
		log.WithError(err).Warn("Failed to load file for group")

		return groupFailure(cases, "loading test file: "+err.Error())
	}

	adapter, err := d.registry.Get(runner.Category(file.Runner))
	if err != nil {
		log.WithError(err).Warn("No adapter for file group")

		return groupFailure(cases, err.Error())
	}

	runnerCases := make([]runner.Case, 0, len(cases))
	for _, c := range cases {
		runnerCases = append(runnerCases, runner.Case{ID: c.ID, Title: c.Title})
	}

	log.WithFields(logrus.Fields{
		"path":  file.Path,
		"cases": len(runnerCases),
	}).Info("Executing file group")

	results, err := adapter.Run(ctx, file.Path, runnerCases)
	if err != nil {
		log.WithError(err).Warn("Adapter failed for file group")

		return groupFailure(cases, "runner error: "+err.Error())
	}

	return results
}

// persistResults writes each case result exactly once, recomputes the
// run aggregates and moves the run to its terminal status.
func (d *dispatcher) persistResults(
	ctx context.Context,
	run *store.TestRun,
	results []runner.CaseResult,
	started time.Time,
) error {
	stored, err := d.store.ListResultsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading run results: %w", err)
	}

	byCase := make(map[string]*store.TestResult, len(stored))
	for i := range stored {
		byCase[stored[i].CaseID] = &stored[i]
	}

	for _, r := range results {
		row, ok := byCase[r.CaseID]
		if !ok {
			d.log.WithField("case_id", r.CaseID).
				Warn("Adapter reported a case not in this run")

			continue
		}

		row.Status = r.Status
		row.DurationMS = r.DurationMS
		row.ErrorMessage = r.ErrorMessage
		row.ErrorStack = r.ErrorStack
		row.RawLog = r.RawLog

		if err := d.store.UpdateResult(ctx, row); err != nil {
			return fmt.Errorf("persisting result for case %s: %w", r.CaseID, err)
		}
	}

	var passed, failed, pending int

	for i := range stored {
		switch stored[i].Status {
		case store.ResultStatusPassed:
			passed++
		case store.ResultStatusFailed:
			failed++
		case store.ResultStatusPending, store.ResultStatusRunning:
			pending++
		}
	}

	completed := time.Now()

	run.TestsPassed = passed
	run.TestsFailed = failed
	run.TestsPending = pending
	run.CompletedAt = &completed
	run.DurationMS = completed.Sub(started).Milliseconds()

	// Any failed case fails the whole run.
	if failed > 0 {
		run.Status = store.RunStatusFailed
	} else {
		run.Status = store.RunStatusPassed
	}

	if err := d.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("finalizing run: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"status":   run.Status,
		"passed":   passed,
		"failed":   failed,
		"duration": time.Duration(run.DurationMS) * time.Millisecond,
	}).Info("Run completed")

	return nil
}

// failRun best-effort marks the run failed when execution cannot
// proceed. Case results are deliberately left untouched.
func (d *dispatcher) failRun(
	ctx context.Context, run *store.TestRun, started time.Time,
) {
	completed := time.Now()

	run.Status = store.RunStatusFailed
	run.CompletedAt = &completed
	run.DurationMS = completed.Sub(started).Milliseconds()

	if err := d.store.UpdateRun(ctx, run); err != nil {
		d.log.WithError(err).WithField("run_id", run.ID).
			Error("Failed to mark run failed")
	}
}

// StopRun flips the run to failed and skips its outstanding results.
func (d *dispatcher) StopRun(ctx context.Context, runID string) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	if run.Status == store.RunStatusPassed || run.Status == store.RunStatusFailed {
		return fmt.Errorf("run %s already completed with status %s", runID, run.Status)
	}

	results, err := d.store.ListResultsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run results: %w", err)
	}

	skipped := 0

	for i := range results {
		if results[i].Status != store.ResultStatusPending &&
			results[i].Status != store.ResultStatusRunning {
			continue
		}

		results[i].Status = store.ResultStatusSkipped
		results[i].ErrorMessage = "run stopped by user"

		if err := d.store.UpdateResult(ctx, &results[i]); err != nil {
			return fmt.Errorf("skipping result for case %s: %w", results[i].CaseID, err)
		}

		skipped++
	}

	completed := time.Now()

	run.Status = store.RunStatusFailed
	run.TestsPending = 0
	run.CompletedAt = &completed

	if run.StartedAt != nil {
		run.DurationMS = completed.Sub(*run.StartedAt).Milliseconds()
	}

	if err := d.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("stopping run: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"skipped": skipped,
	}).Info("Run stopped by user")

	return nil
}

// groupFailure converts a whole file group into failed results.
func groupFailure(cases []store.TestCase, message string) []runner.CaseResult {
	results := make([]runner.CaseResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, runner.CaseResult{
			CaseID:       c.ID,
			Status:       runner.StatusFailed,
			ErrorMessage: message,
		})
	}

	return results
}
