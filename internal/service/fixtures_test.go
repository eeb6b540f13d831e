package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/models"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type recordingInvalidator struct {
	mu      sync.Mutex
	changes []ProgressChange
}

func (r *recordingInvalidator) Invalidate(_ context.Context, change ProgressChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recordingInvalidator) last() ProgressChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

type progressFixture struct {
	db          *gorm.DB
	units       repository.UnitRepository
	progress    repository.UnitProgressRepository
	overrides   repository.DeadlineOverrideRepository
	deadlines   DeadlineService
	service     ProgressService
	invalidator *recordingInvalidator
	activities  *memoryActivityRepo
	caps        database.Capabilities
}

// newProgressFixture opens an isolated SQLite database with a single connection so that
// concurrent transactions serialize the way row locks serialize them on Postgres.
func newProgressFixture(t *testing.T, units ...models.Unit) *progressFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, database.Migrate(db))
	for i := range units {
		require.NoError(t, db.Create(&units[i]).Error)
	}

	caps := database.DetectCapabilities(db)
	validate := validator.New(validator.WithRequiredStructEnabled())
	invalidator := &recordingInvalidator{}
	activityRepo := &memoryActivityRepo{}
	activities := NewActivityService(activityRepo, testLogger())

	unitRepo := repository.NewUnitRepository(db, caps)
	progressRepo := repository.NewUnitProgressRepository(db, caps, time.Second)
	overrideRepo := repository.NewDeadlineOverrideRepository(db, caps)
	deadlines := NewDeadlineService(unitRepo, overrideRepo, invalidator, activities, caps, validate, testLogger())

	return &progressFixture{
		db:          db,
		units:       unitRepo,
		progress:    progressRepo,
		overrides:   overrideRepo,
		deadlines:   deadlines,
		service:     NewProgressService(unitRepo, progressRepo, deadlines, invalidator, activities, progression.Classifier{}, caps, validate, testLogger()),
		invalidator: invalidator,
		activities:  activityRepo,
		caps:        caps,
	}
}

func (f *progressFixture) rows(t *testing.T, studentID, courseID uint) map[uint]models.UnitProgress {
	t.Helper()
	rows, err := f.progress.ListByStudentCourse(context.Background(), nil, studentID, courseID)
	require.NoError(t, err)
	return progression.IndexProgress(rows)
}

// scenarioUnits is a course with an intro, an assignment-gated unit and a plain unit.
func scenarioUnits() []models.Unit {
	return []models.Unit{
		{ID: 10, CourseID: 1, Title: "Intro", OrderIndex: 0},
		{ID: 11, CourseID: 1, Title: "Unit 1", OrderIndex: 1, UnlockCondition: models.UnlockConditionAssignment},
		{ID: 12, CourseID: 1, Title: "Unit 2", OrderIndex: 2},
	}
}

var studentActor = ActivityActor{ID: 7, Role: "student"}
