package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/models"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

func TestGetOrInitializeBootstrapsFreshStudent(t *testing.T) {
	f := newProgressFixture(t,
		models.Unit{ID: 1, CourseID: 5, Title: "Welcome", OrderIndex: 0},
		models.Unit{ID: 2, CourseID: 5, Title: "Unit 1", OrderIndex: 1},
		models.Unit{ID: 3, CourseID: 5, Title: "Unit 2", OrderIndex: 2},
		models.Unit{ID: 4, CourseID: 5, Title: "Extra reading", OrderIndex: 3, IsOptional: true},
	)
	ctx := context.Background()

	result, err := f.service.GetOrInitialize(ctx, 7, 5)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, 4, result.CreatedCount)

	require.True(t, result.Progress[1].IsUnlocked)
	require.Equal(t, models.UnlockMethodIntro, result.Progress[1].UnlockMethod)
	require.True(t, result.Progress[2].IsUnlocked)
	require.Equal(t, models.UnlockMethodInitial, result.Progress[2].UnlockMethod)
	require.False(t, result.Progress[3].IsUnlocked)
	require.False(t, result.Progress[4].IsUnlocked)
	require.Equal(t, 1, f.invalidator.count())

	again, err := f.service.GetOrInitialize(ctx, 7, 5)
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Zero(t, again.CreatedCount)
	require.Zero(t, again.PromotedCount)
	require.Len(t, again.Progress, 4)
	require.Equal(t, 1, f.invalidator.count(), "steady-state reads must not signal changes")
}

func TestGetOrInitializeEmptyCourse(t *testing.T) {
	f := newProgressFixture(t)

	result, err := f.service.GetOrInitialize(context.Background(), 7, 99)
	require.NoError(t, err)
	require.False(t, result.Created)
	require.Empty(t, result.Progress)
}

func TestGetOrInitializePromotesLateIntroAndAddsNewUnits(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Unit{}).Where("id = ?", 12).UpdateColumn("is_intro", true).Error)
	require.NoError(t, f.db.Create(&models.Unit{ID: 13, CourseID: 1, Title: "Unit 3", OrderIndex: 3}).Error)

	result, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, 1, result.CreatedCount)
	require.Equal(t, 1, result.PromotedCount)
	require.True(t, result.Progress[12].IsUnlocked)
	require.Equal(t, models.UnlockMethodIntro, result.Progress[12].UnlockMethod)
	require.False(t, result.Progress[13].IsUnlocked, "new chain units start locked once the chain has started")
	require.Equal(t, models.UnlockMethodInitial, result.Progress[11].UnlockMethod)
}

func TestGetOrInitializeWithoutProgressTable(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	caps := f.caps
	caps.ProgressTable = false
	svc := NewProgressService(f.units, f.progress, nil, nil, nil, progression.Classifier{}, caps, validator.New(), testLogger())

	_, err := svc.GetOrInitialize(context.Background(), 7, 1)
	require.ErrorIs(t, err, ErrStorageNotProvisioned)
	require.Equal(t, KindDeployment, Classify(err))
	require.False(t, Classify(err).Retryable())
}

func TestGetOrInitializeMissingTableAtRuntime(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	require.NoError(t, f.db.Migrator().DropTable(&models.UnitProgress{}))

	_, err := f.service.GetOrInitialize(context.Background(), 7, 1)
	require.ErrorIs(t, err, ErrStorageNotProvisioned)
}

func TestCompletionScenario(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	view, err := f.service.GetProgress(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, view.Created)
	require.Len(t, view.Units, 3)
	require.True(t, view.Units[0].IsUnlocked)
	require.True(t, view.Units[1].IsUnlocked)
	require.False(t, view.Units[2].IsUnlocked)

	completion, err := f.service.CompleteUnit(ctx, studentActor, 7, 1, 11)
	require.NoError(t, err)
	require.False(t, completion.AlreadyCompleted)
	require.NotNil(t, completion.CompletedAt)
	require.NotNil(t, completion.UnlockedNextUnitID)
	require.Equal(t, uint(12), *completion.UnlockedNextUnitID)

	view, err = f.service.GetProgress(ctx, 7, 1)
	require.NoError(t, err)
	require.False(t, view.Created)
	require.True(t, view.Units[1].IsCompleted)
	require.True(t, view.Units[2].IsUnlocked)
	require.Equal(t, models.UnlockMethodAutomatic, view.Units[2].UnlockMethod)

	change := f.invalidator.last()
	require.Equal(t, uint(7), change.StudentID)
	require.Equal(t, uint(1), change.CourseID)
	require.Contains(t, f.activities.actions(), models.ActivityUnitCompleted)

	audit, err := f.service.AuditStudent(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, audit.FrontierValid)
}

func TestCompleteLockedUnitIsRejected(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)
	before := f.rows(t, 7, 1)
	signals := f.invalidator.count()

	_, err = f.service.CompleteUnit(ctx, studentActor, 7, 1, 12)
	require.ErrorIs(t, err, ErrUnitLocked)
	require.ErrorIs(t, err, ErrNotEligible)
	require.Equal(t, KindNotEligible, Classify(err))

	require.Equal(t, before, f.rows(t, 7, 1))
	require.Equal(t, signals, f.invalidator.count())
}

func TestCompleteUnitIsIdempotent(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)

	first, err := f.service.CompleteUnit(ctx, studentActor, 7, 1, 11)
	require.NoError(t, err)
	require.NotNil(t, first.UnlockedNextUnitID)
	afterFirst := f.rows(t, 7, 1)
	signals := f.invalidator.count()

	second, err := f.service.CompleteUnit(ctx, studentActor, 7, 1, 11)
	require.NoError(t, err)
	require.True(t, second.AlreadyCompleted)
	require.Nil(t, second.UnlockedNextUnitID)
	require.True(t, first.CompletedAt.Equal(*second.CompletedAt))

	require.Equal(t, afterFirst, f.rows(t, 7, 1))
	require.Equal(t, signals, f.invalidator.count())
}

func TestCompleteUnitRequiresBootstrap(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)

	_, err := f.service.CompleteUnit(context.Background(), studentActor, 7, 1, 11)
	require.ErrorIs(t, err, ErrProgressNotInitialized)
	require.Equal(t, KindConsistency, Classify(err))
}

func TestCompleteUnitOutsideCourse(t *testing.T) {
	units := append(scenarioUnits(), models.Unit{ID: 30, CourseID: 2, Title: "Elsewhere", OrderIndex: 1})
	f := newProgressFixture(t, units...)
	ctx := context.Background()

	_, err := f.service.CompleteUnit(ctx, studentActor, 7, 1, 30)
	require.ErrorIs(t, err, ErrUnitNotInCourse)
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = f.service.CompleteUnit(ctx, studentActor, 7, 1, 404)
	require.ErrorIs(t, err, ErrUnitNotFound)
	require.Equal(t, KindNotFound, Classify(err))
}

func TestConcurrentCompletionsUnlockNextUnitOnce(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)

	const attempts = 4
	results := make([]dto.CompletionResponse, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			results[idx], errs[idx] = f.service.CompleteUnit(ctx, studentActor, 7, 1, 11)
		}(i)
	}
	close(start)
	wg.Wait()

	unlocked := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if results[i].UnlockedNextUnitID != nil {
			unlocked++
			require.False(t, results[i].AlreadyCompleted)
		} else {
			require.True(t, results[i].AlreadyCompleted)
		}
	}
	require.Equal(t, 1, unlocked)

	var count int64
	require.NoError(t, f.db.Model(&models.UnitProgress{}).Where("student_id = ? AND unit_id = ?", 7, 12).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCompletionKeepsEarlierManualUnlock(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()
	teacher := ActivityActor{ID: 2, Role: "teacher"}

	unlocked, err := f.service.ManualUnlock(ctx, teacher, 7, 1, 12, dto.ManualUnlockRequest{Reason: "<b>late</b> enrolment"})
	require.NoError(t, err)
	require.True(t, unlocked.IsUnlocked)
	require.Equal(t, models.UnlockMethodManual, unlocked.UnlockMethod)

	row := f.rows(t, 7, 1)[12]
	require.NotNil(t, row.UnlockedBy)
	require.Equal(t, uint(2), *row.UnlockedBy)
	require.NotNil(t, row.UnlockReason)
	require.Equal(t, "late enrolment", *row.UnlockReason)
	manualAt := *row.UnlockedAt

	completion, err := f.service.CompleteUnit(ctx, studentActor, 7, 1, 11)
	require.NoError(t, err)
	require.Nil(t, completion.UnlockedNextUnitID, "an already unlocked next unit is not unlocked again")

	row = f.rows(t, 7, 1)[12]
	require.Equal(t, models.UnlockMethodManual, row.UnlockMethod)
	require.True(t, manualAt.Equal(*row.UnlockedAt))

	audit, err := f.service.AuditStudent(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, audit.FrontierValid)
}

func TestManualUnlockDoesNotRegressExistingUnlock(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)
	entries := len(f.activities.actions())

	response, err := f.service.ManualUnlock(ctx, ActivityActor{ID: 2, Role: "admin"}, 7, 1, 11, dto.ManualUnlockRequest{})
	require.NoError(t, err)
	require.Equal(t, models.UnlockMethodInitial, response.UnlockMethod)
	require.Len(t, f.activities.actions(), entries)
}

func TestFreeUnlockOnlyForOptionalUnits(t *testing.T) {
	units := append(scenarioUnits(), models.Unit{ID: 14, CourseID: 1, Title: "Bonus", OrderIndex: 4, IsOptional: true})
	f := newProgressFixture(t, units...)
	ctx := context.Background()
	admin := ActivityActor{ID: 2, Role: "admin"}

	_, err := f.service.ManualUnlock(ctx, admin, 7, 1, 12, dto.ManualUnlockRequest{Method: "free"})
	require.ErrorIs(t, err, ErrFreeUnlockRequiresOptional)
	require.ErrorIs(t, err, ErrNotEligible)

	response, err := f.service.ManualUnlock(ctx, admin, 7, 1, 14, dto.ManualUnlockRequest{Method: "FREE"})
	require.NoError(t, err)
	require.True(t, response.IsUnlocked)
	require.Equal(t, models.UnlockMethodFree, response.UnlockMethod)

	_, err = f.service.ManualUnlock(ctx, admin, 7, 1, 14, dto.ManualUnlockRequest{Method: "automatic"})
	require.Equal(t, KindValidation, Classify(err))
}

func TestRecordOutcomeCompletesWhenConditionMet(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()
	grader := ActivityActor{ID: 3, Role: "grader"}
	score := 91.0

	quiz, err := f.service.RecordOutcome(ctx, grader, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 11, Kind: "quiz", Score: &score, Passed: true})
	require.NoError(t, err)
	require.True(t, quiz.Recorded)
	require.False(t, quiz.Eligible, "unit 1 is gated on the assignment")
	require.False(t, quiz.Completed)

	assignment, err := f.service.RecordOutcome(ctx, grader, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 11, Kind: "assignment", Score: &score, Passed: true})
	require.NoError(t, err)
	require.True(t, assignment.Eligible)
	require.True(t, assignment.Completed)
	require.NotNil(t, assignment.UnlockedNextUnitID)
	require.Equal(t, uint(12), *assignment.UnlockedNextUnitID)

	row := f.rows(t, 7, 1)[11]
	require.True(t, row.IsCompleted)
	require.True(t, row.QuizPassed)
	require.True(t, row.AssignmentPassed)
	require.InDelta(t, 91.0, *row.LastAssignmentGrade, 1e-9)

	replay, err := f.service.RecordOutcome(ctx, grader, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 11, Kind: "assignment", Passed: true})
	require.NoError(t, err)
	require.True(t, replay.AlreadyCompleted)
	require.False(t, replay.Completed)
	require.Nil(t, replay.UnlockedNextUnitID)
}

func TestRecordOutcomeOnLockedUnitOnlyRecords(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()
	score := 40.0

	response, err := f.service.RecordOutcome(ctx, ActivityActor{ID: 3}, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 12, Kind: "quiz", Score: &score, Passed: true})
	require.NoError(t, err)
	require.True(t, response.Recorded)
	require.False(t, response.Eligible)

	row := f.rows(t, 7, 1)[12]
	require.False(t, row.IsCompleted)
	require.True(t, row.QuizPassed)
	require.InDelta(t, 40.0, *row.LastQuizScore, 1e-9)
}

func TestRecordOutcomeFailingGradeKeepsEarlierPass(t *testing.T) {
	f := newProgressFixture(t,
		models.Unit{ID: 1, CourseID: 1, Title: "Unit 1", OrderIndex: 1, UnlockCondition: models.UnlockConditionBoth},
	)
	ctx := context.Background()

	_, err := f.service.RecordOutcome(ctx, ActivityActor{}, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 1, Kind: "quiz", Passed: true})
	require.NoError(t, err)
	_, err = f.service.RecordOutcome(ctx, ActivityActor{}, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 1, Kind: "quiz", Passed: false})
	require.NoError(t, err)

	response, err := f.service.RecordOutcome(ctx, ActivityActor{}, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 1, Kind: "assignment", Passed: true})
	require.NoError(t, err)
	require.True(t, response.Completed)
	require.Nil(t, response.UnlockedNextUnitID)
}

func TestRecordOutcomeValidation(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)

	_, err := f.service.RecordOutcome(context.Background(), ActivityActor{}, dto.OutcomeRequest{StudentID: 7, CourseID: 1, UnitID: 11, Kind: "essay"})
	require.Error(t, err)
	require.Equal(t, KindValidation, Classify(err))
}

func TestAuditStudentReportsFrontierViolation(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	_, err := f.service.GetOrInitialize(ctx, 7, 1)
	require.NoError(t, err)
	_, err = f.progress.Unlock(ctx, nil, 7, 12, repository.UnlockUpdate{Method: models.UnlockMethodAutomatic})
	require.NoError(t, err)

	audit, err := f.service.AuditStudent(ctx, 7, 1)
	require.NoError(t, err)
	require.False(t, audit.FrontierValid)
	require.NotEmpty(t, audit.FrontierError)
	require.False(t, audit.Created)
}

func TestGetProgressMergesDeadlines(t *testing.T) {
	f := newProgressFixture(t, scenarioUnits()...)
	ctx := context.Background()

	override := models.DeadlineOverride{StudentID: 7, CourseID: 1, UnitID: 12, Deadline: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, f.overrides.Upsert(ctx, &override))

	view, err := f.service.GetProgress(ctx, 7, 1)
	require.NoError(t, err)
	require.Nil(t, view.Units[0].Deadline)
	require.NotNil(t, view.Units[2].Deadline)
	require.Equal(t, progression.DeadlineSourceOverride, view.Units[2].DeadlineSource)
}

func TestClassifyWrappedErrors(t *testing.T) {
	require.Equal(t, KindContention, Classify(translateRepoError(repository.ErrLockContention)))
	require.True(t, Classify(translateRepoError(repository.ErrLockContention)).Retryable())
	require.Equal(t, KindDeployment, Classify(translateRepoError(repository.ErrSchemaMissing)))
	require.Equal(t, KindDeployment, Classify(translateRepoError(repository.ErrOverridesUnavailable)))
	require.Equal(t, KindNotEligible, Classify(translateRepoError(repository.ErrUnitCourseMismatch)))
	require.Equal(t, KindInternal, Classify(context.Canceled))
	require.Equal(t, "contention", KindContention.String())
}
