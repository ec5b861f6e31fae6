package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qaforge/qaforge/pkg/config"
)

// ErrValidation marks synchronous rejections of malformed requests.
// Callers map it to a 400-class response; nothing is persisted.
var ErrValidation = errors.New("validation failed")

// Store provides persistence for the orchestration entities.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Catalog (read side, plus manifest seeding).
	SeedCatalog(ctx context.Context, manifest *CatalogManifest) error
	GetFile(ctx context.Context, id string) (*TestFile, error)
	ListFiles(ctx context.Context) ([]TestFile, error)
	GetCasesByIDs(ctx context.Context, ids []string) ([]TestCase, error)
	ListActiveCasesByFile(ctx context.Context, fileID string) ([]TestCase, error)

	// Schedules.
	CreateSchedule(ctx context.Context, params *CreateScheduleParams) (*ScheduledTest, error)
	UpdateSchedule(ctx context.Context, id string, params *UpdateScheduleParams) (*ScheduledTest, error)
	DeleteSchedule(ctx context.Context, id string) error
	ToggleSchedule(ctx context.Context, id string) (*ScheduledTest, error)
	GetSchedule(ctx context.Context, id string) (*ScheduledTest, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]ScheduledTest, error)
	GetDueSchedules(ctx context.Context, now time.Time) ([]ScheduledTest, error)
	UpdateScheduleAfterRun(ctx context.Context, id, status string) error

	// Runs and results.
	CreateRun(ctx context.Context, run *TestRun, caseIDs []string) error
	GetRun(ctx context.Context, id string) (*TestRun, error)
	UpdateRun(ctx context.Context, run *TestRun) error
	ListRuns(ctx context.Context, limit int) ([]TestRun, error)
	ListResultsByRun(ctx context.Context, runID string) ([]TestResult, error)
	UpdateResult(ctx context.Context, result *TestResult) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	loc *time.Location
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database
// driver. Scheduled wall-clock times are interpreted in loc.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	loc *time.Location,
) Store {
	if loc == nil {
		loc = time.UTC
	}

	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
		loc: loc,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&TestFile{},
		&TestCase{},
		&ScheduledTest{},
		&TestRun{},
		&TestResult{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}
