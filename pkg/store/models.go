package store

import (
	"time"
)

// Run statuses.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
)

// Per-case result statuses.
const (
	ResultStatusPending = "pending"
	ResultStatusRunning = "running"
	ResultStatusPassed  = "passed"
	ResultStatusFailed  = "failed"
	ResultStatusSkipped = "skipped"
)

// TestFile is one catalog source file. All cases in a file share one
// runner category. The catalog is read-only from the orchestration
// core's perspective; it is populated by seeding, not discovery.
type TestFile struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"uniqueIndex;not null" json:"path"`
	Runner    string    `gorm:"not null" json:"runner"`
	CreatedAt time.Time `json:"created_at"`
}

// TestCase is one catalog test case within a file, matched against
// tool reports by its exact title.
type TestCase struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	FileID    string    `gorm:"index;not null" json:"file_id"`
	Title     string    `gorm:"not null" json:"title"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledTest is a standing instruction to execute either a single
// case or a whole file on a schedule. Exactly one of TestCaseID and
// TestFileID is set.
type ScheduledTest struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	TestCaseID    *string    `gorm:"index" json:"test_case_id,omitempty"`
	TestFileID    *string    `gorm:"index" json:"test_file_id,omitempty"`
	ScheduleType  string     `gorm:"not null" json:"schedule_type"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime string     `gorm:"not null" json:"scheduled_time"`
	WeekDays      string     `json:"week_days,omitempty"`
	DayOfMonth    *int       `json:"day_of_month,omitempty"`
	Enabled       bool       `gorm:"not null" json:"enabled"`
	NextRunAt     *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus *string    `json:"last_run_status,omitempty"`
	RunCount      int        `gorm:"not null;default:0" json:"run_count"`
	CreatedBy     *string    `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TestRun is one execution attempt spanning one or more cases.
type TestRun struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"token"`
	Status       string     `gorm:"not null;index" json:"status"`
	TestsTotal   int        `gorm:"not null;default:0" json:"tests_total"`
	TestsPassed  int        `gorm:"not null;default:0" json:"tests_passed"`
	TestsFailed  int        `gorm:"not null;default:0" json:"tests_failed"`
	TestsPending int        `gorm:"not null;default:0" json:"tests_pending"`
	ScheduleID   *string    `gorm:"index" json:"schedule_id,omitempty"`
	TriggeredBy  *string    `json:"triggered_by,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TestResult is one case's outcome within a run. Created as pending at
// run creation and moved to a terminal status exactly once by the
// dispatcher.
type TestResult struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	RunID        string    `gorm:"index;not null" json:"run_id"`
	CaseID       string    `gorm:"index;not null" json:"case_id"`
	Status       string    `gorm:"not null" json:"status"`
	DurationMS   int64     `gorm:"not null;default:0" json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorStack   string    `json:"error_stack,omitempty"`
	RawLog       string    `json:"raw_log,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
