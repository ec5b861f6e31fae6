// Package scanner polls the store for due schedules and hands them to
// the dispatcher. One scanner instance runs per process.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qaforge/qaforge/pkg/dispatch"
	"github.com/qaforge/qaforge/pkg/store"
)

// DefaultInterval between schedule scans.
const DefaultInterval = time.Minute

// Status is a point-in-time snapshot of the scanner.
type Status struct {
	Running    bool       `json:"running"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
	InFlight   int        `json:"in_flight"`
}

// Scanner periodically picks up due schedules and triggers runs for
// them. A schedule with a run still in flight is skipped until that
// run completes, so overlapping ticks never double-fire it.
type Scanner struct {
	log        logrus.FieldLogger
	store      store.Store
	dispatcher dispatch.Dispatcher
	interval   time.Duration

	mu         sync.Mutex
	running    bool
	lastScanAt *time.Time
	inFlight   map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
	// execWg tracks run executions separately so Stop does not block
	// on a long tool invocation.
	execWg sync.WaitGroup
}

// New creates a new schedule scanner.
func New(
	log logrus.FieldLogger,
	st store.Store,
	d dispatch.Dispatcher,
	interval time.Duration,
) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scanner{
		log:        log.WithField("component", "scanner"),
		store:      st,
		dispatcher: d,
		interval:   interval,
		inFlight:   make(map[string]struct{}),
	}
}

// Start begins the scan loop. Calling Start on a running scanner is a
// no-op beyond a warning.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Scanner already running")

		return nil
	}

	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.WithField("interval", s.interval).Info("Starting schedule scanner")

	s.wg.Add(1)

	go s.loop(ctx)

	return nil
}

// Stop halts the scan loop. In-flight runs are not interrupted.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()

		return nil
	}

	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	s.log.Info("Schedule scanner stopped")

	return nil
}

// Status reports whether the scanner is running, when it last scanned
// and how many schedule-triggered runs are in flight.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Running:    s.running,
		LastScanAt: s.lastScanAt,
		InFlight:   len(s.inFlight),
	}
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	// The loop can also exit through context cancellation, in which
	// case Stop never runs; Status must not keep reporting a dead loop
	// as running.
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// First scan immediately, then on the ticker.
	s.Scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan performs a single pass over due schedules. Exported so a manual
// sweep can be triggered outside the loop.
func (s *Scanner) Scan(ctx context.Context) {
	now := time.Now()

	due, err := s.store.GetDueSchedules(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Failed to query due schedules")

		return
	}

	s.mu.Lock()
	s.lastScanAt = &now
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	s.log.WithField("due", len(due)).Info("Found due schedules")

	for i := range due {
		// One broken schedule never blocks the rest of the sweep.
		if err := s.fire(ctx, &due[i]); err != nil {
			s.log.WithError(err).
				WithField("schedule_id", due[i].ID).
				Error("Failed to fire schedule")
		}
	}
}

// fire resolves a schedule's target cases, creates the run and hands
// it off to a background execution.
func (s *Scanner) fire(ctx context.Context, sched *store.ScheduledTest) error {
	s.mu.Lock()
	if _, busy := s.inFlight[sched.ID]; busy {
		s.mu.Unlock()
		s.log.WithField("schedule_id", sched.ID).
			Debug("Schedule still in flight, skipping")

		return nil
	}
	s.mu.Unlock()

	caseIDs, err := s.resolveCases(ctx, sched)
	if err != nil {
		return err
	}

	if len(caseIDs) == 0 {
		// Nothing runnable: advance the schedule so it does not come
		// up due again on the next tick.
		s.log.WithField("schedule_id", sched.ID).
			Warn("Schedule has no active cases, skipping")

		return s.store.UpdateScheduleAfterRun(ctx, sched.ID, "skipped")
	}

	run := &store.TestRun{
		Token:       scheduleToken(),
		ScheduleID:  &sched.ID,
		TriggeredBy: sched.CreatedBy,
	}

	if err := s.store.CreateRun(ctx, run, caseIDs); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	s.mu.Lock()
	s.inFlight[sched.ID] = struct{}{}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"run_id":      run.ID,
		"cases":       len(caseIDs),
	}).Info("Triggering scheduled run")

	s.execWg.Add(1)

	go s.execute(ctx, sched.ID, run.ID, caseIDs)

	return nil
}

// execute runs in its own goroutine; the schedule advances only after
// its run reached a terminal status.
func (s *Scanner) execute(
	ctx context.Context, scheduleID, runID string, caseIDs []string,
) {
	defer s.execWg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, scheduleID)
		s.mu.Unlock()
	}()

	log := s.log.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"run_id":      runID,
	})

	if err := s.dispatcher.ExecuteRun(ctx, runID, caseIDs); err != nil {
		log.WithError(err).Error("Scheduled run execution failed")
	}

	status := store.RunStatusFailed

	if run, err := s.store.GetRun(ctx, runID); err != nil {
		log.WithError(err).Error("Failed to read back run status")
	} else if run.Status == store.RunStatusPassed {
		status = store.RunStatusPassed
	}

	if err := s.store.UpdateScheduleAfterRun(ctx, scheduleID, status); err != nil {
		log.WithError(err).Error("Failed to advance schedule after run")
	}
}

// resolveCases returns the case IDs a schedule targets: either its
// single case or all active cases of its file.
func (s *Scanner) resolveCases(
	ctx context.Context, sched *store.ScheduledTest,
) ([]string, error) {
	if sched.TestCaseID != nil {
		cases, err := s.store.GetCasesByIDs(ctx, []string{*sched.TestCaseID})
		if err != nil {
			return nil, fmt.Errorf("resolving case: %w", err)
		}

		ids := make([]string, 0, len(cases))
		for _, c := range cases {
			if c.Active {
				ids = append(ids, c.ID)
			}
		}

		return ids, nil
	}

	if sched.TestFileID == nil {
		return nil, fmt.Errorf("schedule %s has no target", sched.ID)
	}

	cases, err := s.store.ListActiveCasesByFile(ctx, *sched.TestFileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file cases: %w", err)
	}

	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

func scheduleToken() string {
	return fmt.Sprintf("sched-%s-%s",
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8])
}
