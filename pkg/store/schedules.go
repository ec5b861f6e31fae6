package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qaforge/qaforge/pkg/schedule"
)

// CreateScheduleParams is the request shape for creating a schedule.
// Exactly one of TestCaseID and TestFileID must be set.
type CreateScheduleParams struct {
	TestCaseID    *string
	TestFileID    *string
	ScheduleType  string
	ScheduledDate *time.Time
	ScheduledTime string
	WeekDays      []int
	DayOfMonth    *int
	CreatedBy     *string
}

// UpdateScheduleParams carries partial updates. Nil fields keep the
// stored value; any scheduling field changing triggers a NextRunAt
// recomputation using the merged parameter set.
type UpdateScheduleParams struct {
	ScheduleType  *string
	ScheduledDate *time.Time
	ScheduledTime *string
	WeekDays      *[]int
	DayOfMonth    *int
	Enabled       *bool
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	Enabled      *bool
	ScheduleType *string
	CreatedBy    *string
}

// CreateSchedule validates the request, computes the initial NextRunAt
// and persists the schedule.
func (s *store) CreateSchedule(
	ctx context.Context, params *CreateScheduleParams,
) (*ScheduledTest, error) {
	if err := s.validateTarget(ctx, params.TestCaseID, params.TestFileID); err != nil {
		return nil, err
	}

	sched := &ScheduledTest{
		ID:            uuid.NewString(),
		TestCaseID:    params.TestCaseID,
		TestFileID:    params.TestFileID,
		ScheduleType:  params.ScheduleType,
		ScheduledDate: params.ScheduledDate,
		ScheduledTime: params.ScheduledTime,
		DayOfMonth:    params.DayOfMonth,
		Enabled:       true,
		CreatedBy:     params.CreatedBy,
	}

	if len(params.WeekDays) > 0 {
		sched.WeekDays = weekdayPattern(params.WeekDays).String()
	}

	recurrence, err := s.recurrenceParams(sched)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	next, err := schedule.NextRunTime(time.Now(), recurrence)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	sched.NextRunAt = &next

	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	return sched, nil
}

// UpdateSchedule applies partial updates. NextRunAt is recomputed from
// the merged (old-if-absent, new-if-present) scheduling parameters
// whenever any of them changed.
func (s *store) UpdateSchedule(
	ctx context.Context, id string, params *UpdateScheduleParams,
) (*ScheduledTest, error) {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	schedulingChanged := false

	if params.ScheduleType != nil && *params.ScheduleType != sched.ScheduleType {
		sched.ScheduleType = *params.ScheduleType
		schedulingChanged = true
	}

	if params.ScheduledDate != nil {
		sched.ScheduledDate = params.ScheduledDate
		schedulingChanged = true
	}

	if params.ScheduledTime != nil && *params.ScheduledTime != sched.ScheduledTime {
		sched.ScheduledTime = *params.ScheduledTime
		schedulingChanged = true
	}

	if params.WeekDays != nil {
		sched.WeekDays = weekdayPattern(*params.WeekDays).String()
		schedulingChanged = true
	}

	if params.DayOfMonth != nil {
		sched.DayOfMonth = params.DayOfMonth
		schedulingChanged = true
	}

	if params.Enabled != nil {
		sched.Enabled = *params.Enabled
	}

	if schedulingChanged {
		recurrence, err := s.recurrenceParams(sched)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}

		next, err := schedule.NextRunTime(time.Now(), recurrence)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}

		sched.NextRunAt = &next
	}

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return nil, fmt.Errorf("updating schedule: %w", err)
	}

	return sched, nil
}

// DeleteSchedule removes a schedule permanently.
func (s *store) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Delete(&ScheduledTest{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	return nil
}

// ToggleSchedule flips the enabled flag and returns the updated row.
func (s *store) ToggleSchedule(
	ctx context.Context, id string,
) (*ScheduledTest, error) {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	sched.Enabled = !sched.Enabled

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return nil, fmt.Errorf("toggling schedule: %w", err)
	}

	return sched, nil
}

// GetSchedule fetches one schedule by id.
func (s *store) GetSchedule(
	ctx context.Context, id string,
) (*ScheduledTest, error) {
	var sched ScheduledTest
	if err := s.db.WithContext(ctx).
		First(&sched, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return &sched, nil
}

// ListSchedules returns schedules matching the filter, newest first.
func (s *store) ListSchedules(
	ctx context.Context, filter ScheduleFilter,
) ([]ScheduledTest, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")

	if filter.Enabled != nil {
		q = q.Where("enabled = ?", *filter.Enabled)
	}

	if filter.ScheduleType != nil {
		q = q.Where("schedule_type = ?", *filter.ScheduleType)
	}

	if filter.CreatedBy != nil {
		q = q.Where("created_by = ?", *filter.CreatedBy)
	}

	var schedules []ScheduledTest
	if err := q.Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	return schedules, nil
}

// GetDueSchedules returns every enabled schedule whose NextRunAt has
// elapsed, oldest-due first.
func (s *store) GetDueSchedules(
	ctx context.Context, now time.Time,
) ([]ScheduledTest, error) {
	var schedules []ScheduledTest
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}

	return schedules, nil
}

// UpdateScheduleAfterRun records a completed run on the schedule. A
// one-time schedule is terminal: it is force-disabled and its NextRunAt
// cleared, so it never recurs even if re-enabled. Recurring schedules
// get a fresh NextRunAt from their stored parameters and keep their
// enabled flag untouched.
func (s *store) UpdateScheduleAfterRun(
	ctx context.Context, id, status string,
) error {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	sched.LastRunAt = &now
	sched.LastRunStatus = &status
	sched.RunCount++

	if sched.ScheduleType == string(schedule.TypeOneTime) {
		sched.Enabled = false
		sched.NextRunAt = nil
	} else {
		recurrence, err := s.recurrenceParams(sched)
		if err != nil {
			return fmt.Errorf("recomputing recurrence: %w", err)
		}

		next, err := schedule.NextRunTime(now, recurrence)
		if err != nil {
			return fmt.Errorf("recomputing next run: %w", err)
		}

		sched.NextRunAt = &next
	}

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return fmt.Errorf("updating schedule after run: %w", err)
	}

	return nil
}

// validateTarget enforces the mutually exclusive case/file target and
// checks the referenced catalog entry exists.
func (s *store) validateTarget(
	ctx context.Context, caseID, fileID *string,
) error {
	if (caseID == nil) == (fileID == nil) {
		return fmt.Errorf(
			"%w: exactly one of test case and test file must be targeted",
			ErrValidation,
		)
	}

	if caseID != nil {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&TestCase{}).
			Where("id = ?", *caseID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("looking up test case: %w", err)
		}

		if count == 0 {
			return fmt.Errorf("%w: unknown test case %q", ErrValidation, *caseID)
		}

		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&TestFile{}).
		Where("id = ?", *fileID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("looking up test file: %w", err)
	}

	if count == 0 {
		return fmt.Errorf("%w: unknown test file %q", ErrValidation, *fileID)
	}

	return nil
}

// recurrenceParams converts a stored schedule row into calculator
// parameters, parsing the persisted pattern columns.
func (s *store) recurrenceParams(
	sched *ScheduledTest,
) (schedule.Params, error) {
	timeOfDay, err := schedule.ParseClockTime(sched.ScheduledTime)
	if err != nil {
		return schedule.Params{}, err
	}

	params := schedule.Params{
		Type:      schedule.Type(sched.ScheduleType),
		Date:      sched.ScheduledDate,
		TimeOfDay: timeOfDay,
		Location:  s.loc,
	}

	switch params.Type {
	case schedule.TypeWeekly:
		pattern, err := schedule.ParseWeekdays(sched.WeekDays)
		if err != nil {
			return schedule.Params{}, err
		}

		params.Pattern = pattern
	case schedule.TypeMonthly:
		if sched.DayOfMonth == nil {
			return schedule.Params{}, fmt.Errorf("monthly schedule requires a day of month")
		}

		params.Pattern = schedule.MonthlyPattern{DayOfMonth: *sched.DayOfMonth}
	}

	return params, nil
}

// weekdayPattern converts raw ordinals into the typed pattern.
func weekdayPattern(ordinals []int) schedule.WeeklyPattern {
	var p schedule.WeeklyPattern
	for _, o := range ordinals {
		p.Days = append(p.Days, time.Weekday(o))
	}

	return p
}
