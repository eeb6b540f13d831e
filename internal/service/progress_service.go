package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/models"
	"github.com/noah-isme/gema-progress-api/internal/observability"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

// InitResult is the outcome of GetOrInitialize. Created is true only when this call
// inserted at least one progress row.
type InitResult struct {
	Created       bool
	CreatedCount  int
	PromotedCount int
	Units         []models.Unit
	Progress      map[uint]models.UnitProgress
}

// ProgressService drives bootstrap, completion and administrative unlocks of unit progress.
type ProgressService interface {
	GetOrInitialize(ctx context.Context, studentID, courseID uint) (InitResult, error)
	GetProgress(ctx context.Context, studentID, courseID uint) (dto.CourseProgressResponse, error)
	CompleteUnit(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint) (dto.CompletionResponse, error)
	RecordOutcome(ctx context.Context, actor ActivityActor, req dto.OutcomeRequest) (dto.OutcomeResponse, error)
	ManualUnlock(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint, req dto.ManualUnlockRequest) (dto.UnitProgressResponse, error)
	AuditStudent(ctx context.Context, studentID, courseID uint) (dto.AdminStudentProgressResponse, error)
}

type progressService struct {
	units       repository.UnitRepository
	progress    repository.UnitProgressRepository
	deadlines   DeadlineResolver
	invalidator Invalidator
	activities  ActivityRecorder
	classifier  progression.Classifier
	caps        database.Capabilities
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type completionOutcome struct {
	AlreadyCompleted   bool
	CompletedAt        *time.Time
	UnlockedNextUnitID *uint
}

// NewProgressService wires the progression workflow. deadlines, invalidator and activities
// may be nil.
func NewProgressService(
	units repository.UnitRepository,
	progress repository.UnitProgressRepository,
	deadlines DeadlineResolver,
	invalidator Invalidator,
	activities ActivityRecorder,
	classifier progression.Classifier,
	caps database.Capabilities,
	validate *validator.Validate,
	logger zerolog.Logger,
) ProgressService {
	return &progressService{
		units:       units,
		progress:    progress,
		deadlines:   deadlines,
		invalidator: invalidator,
		activities:  activities,
		classifier:  classifier,
		caps:        caps,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "progress_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-progress-api/internal/service/progress"),
		now:         time.Now,
	}
}

func (s *progressService) GetOrInitialize(ctx context.Context, studentID, courseID uint) (InitResult, error) {
	ctx, span := s.tracer.Start(ctx, "progress.bootstrap", trace.WithAttributes(
		attribute.Int64("progress.student_id", int64(studentID)),
		attribute.Int64("progress.course_id", int64(courseID)),
	))
	defer span.End()

	result, err := s.getOrInitialize(ctx, studentID, courseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		return InitResult{}, err
	}
	span.SetAttributes(attribute.Int("progress.created_rows", result.CreatedCount))
	return result, nil
}

func (s *progressService) getOrInitialize(ctx context.Context, studentID, courseID uint) (InitResult, error) {
	if !s.caps.ProgressTable {
		return InitResult{}, ErrStorageNotProvisioned
	}

	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return InitResult{}, translateRepoError(err)
	}

	rows, err := s.progress.ListByStudentCourse(ctx, nil, studentID, courseID)
	if err != nil {
		return InitResult{}, translateRepoError(err)
	}
	existing := progression.IndexProgress(rows)

	if s.classifier.PlanBootstrap(studentID, courseID, units, existing, s.now().UTC()).Empty() {
		return InitResult{Units: units, Progress: existing}, nil
	}

	result := InitResult{Units: units}
	err = s.progress.Transaction(ctx, func(tx *gorm.DB) error {
		rows, err := s.progress.ListByStudentCourse(ctx, tx, studentID, courseID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		plan := s.classifier.PlanBootstrap(studentID, courseID, units, progression.IndexProgress(rows), now)

		inserted, err := s.progress.CreateMissing(ctx, tx, plan.Create)
		if err != nil {
			return err
		}
		result.CreatedCount = int(inserted)

		for _, promotion := range plan.Promote {
			changed, err := s.progress.Unlock(ctx, tx, studentID, promotion.UnitID, repository.UnlockUpdate{Method: promotion.Method, At: now})
			if err != nil {
				return err
			}
			if changed {
				result.PromotedCount++
			}
		}

		rows, err = s.progress.ListByStudentCourse(ctx, tx, studentID, courseID)
		if err != nil {
			return err
		}
		result.Progress = progression.IndexProgress(rows)
		return nil
	})
	if err != nil {
		return InitResult{}, translateRepoError(err)
	}

	result.Created = result.CreatedCount > 0
	if result.CreatedCount > 0 {
		observability.BootstrapRows().WithLabelValues("created").Add(float64(result.CreatedCount))
	}
	if result.PromotedCount > 0 {
		observability.BootstrapRows().WithLabelValues("promoted").Add(float64(result.PromotedCount))
	}
	if result.CreatedCount > 0 || result.PromotedCount > 0 {
		s.logger.Debug().
			Uint("student_id", studentID).
			Uint("course_id", courseID).
			Int("created", result.CreatedCount).
			Int("promoted", result.PromotedCount).
			Msg("progress bootstrapped")
		s.invalidate(ctx, ProgressChange{StudentID: studentID, CourseID: courseID, Reason: "bootstrap"})
	}

	return result, nil
}

func (s *progressService) GetProgress(ctx context.Context, studentID, courseID uint) (dto.CourseProgressResponse, error) {
	start := time.Now()
	defer func() {
		observability.ProgressLatency().WithLabelValues("get_progress").Observe(time.Since(start).Seconds())
	}()

	result, err := s.GetOrInitialize(ctx, studentID, courseID)
	if err != nil {
		observability.ProgressRequests().WithLabelValues("get_progress", Classify(err).String()).Inc()
		return dto.CourseProgressResponse{}, err
	}

	deadlines := s.resolveDeadlines(ctx, studentID, courseID, result.Units)
	response := buildProgressView(studentID, courseID, result.Units, result.Progress, deadlines)
	response.Created = result.Created
	response.CreatedRows = result.CreatedCount

	observability.ProgressRequests().WithLabelValues("get_progress", "success").Inc()
	return response, nil
}

func (s *progressService) CompleteUnit(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint) (dto.CompletionResponse, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "progress.complete", trace.WithAttributes(
		attribute.Int64("progress.student_id", int64(studentID)),
		attribute.Int64("progress.course_id", int64(courseID)),
		attribute.Int64("progress.unit_id", int64(unitID)),
	))
	defer span.End()
	defer func() {
		observability.ProgressLatency().WithLabelValues("complete").Observe(time.Since(start).Seconds())
	}()

	response := dto.CompletionResponse{StudentID: studentID, CourseID: courseID, UnitID: unitID}

	units, unit, err := s.loadCourseUnit(ctx, courseID, unitID)
	if err != nil {
		return response, s.completionFailed(span, "complete", err)
	}

	var outcome completionOutcome
	err = s.progress.Transaction(ctx, func(tx *gorm.DB) error {
		row, err := s.lockRow(ctx, tx, studentID, unit.ID)
		if err != nil {
			return err
		}
		outcome, err = s.applyCompletion(ctx, tx, studentID, courseID, row, units)
		return err
	})
	if err != nil {
		return response, s.completionFailed(span, "complete", translateRepoError(err))
	}

	response.AlreadyCompleted = outcome.AlreadyCompleted
	response.CompletedAt = outcome.CompletedAt
	response.UnlockedNextUnitID = outcome.UnlockedNextUnitID
	span.SetAttributes(attribute.Bool("progress.already_completed", outcome.AlreadyCompleted))

	if outcome.AlreadyCompleted {
		observability.UnitCompletions().WithLabelValues("already_completed").Inc()
		observability.ProgressRequests().WithLabelValues("complete", "success").Inc()
		return response, nil
	}

	observability.UnitCompletions().WithLabelValues("completed").Inc()
	observability.ProgressRequests().WithLabelValues("complete", "success").Inc()
	s.afterCompletion(ctx, actor, studentID, courseID, unit.ID, outcome, "completion")

	return response, nil
}

func (s *progressService) RecordOutcome(ctx context.Context, actor ActivityActor, req dto.OutcomeRequest) (dto.OutcomeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "progress.outcome", trace.WithAttributes(
		attribute.Int64("progress.student_id", int64(req.StudentID)),
		attribute.Int64("progress.unit_id", int64(req.UnitID)),
		attribute.String("progress.outcome_kind", req.Kind),
	))
	defer span.End()

	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.OutcomeResponse{}, err
	}

	response := dto.OutcomeResponse{UnitID: req.UnitID}

	initResult, err := s.GetOrInitialize(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return response, s.completionFailed(span, "outcome", err)
	}
	unit, ok := progression.FindUnit(initResult.Units, req.UnitID)
	if !ok {
		return response, s.completionFailed(span, "outcome", s.missingUnitError(ctx, req.UnitID))
	}

	update := repository.OutcomeUpdate{}
	var outcome completionOutcome
	err = s.progress.Transaction(ctx, func(tx *gorm.DB) error {
		row, err := s.lockRow(ctx, tx, req.StudentID, unit.ID)
		if err != nil {
			return err
		}

		switch req.Kind {
		case progression.OutcomeQuiz:
			passed := row.QuizPassed || req.Passed
			update.QuizScore = req.Score
			update.QuizPassed = &passed
			row.QuizPassed = passed
		case progression.OutcomeAssignment:
			passed := row.AssignmentPassed || req.Passed
			update.AssignmentGrade = req.Score
			update.AssignmentPassed = &passed
			row.AssignmentPassed = passed
		}
		if err := s.progress.RecordOutcome(ctx, tx, row.ID, update); err != nil {
			return err
		}

		if row.IsCompleted {
			outcome.AlreadyCompleted = true
			return nil
		}
		if !row.IsUnlocked || !progression.ConditionSatisfied(unit, row) {
			return nil
		}

		response.Eligible = true
		outcome, err = s.applyCompletion(ctx, tx, req.StudentID, req.CourseID, row, initResult.Units)
		return err
	})
	if err != nil {
		return dto.OutcomeResponse{UnitID: req.UnitID}, s.completionFailed(span, "outcome", translateRepoError(err))
	}

	response.Recorded = true
	response.AlreadyCompleted = outcome.AlreadyCompleted
	response.Completed = response.Eligible && !outcome.AlreadyCompleted
	response.UnlockedNextUnitID = outcome.UnlockedNextUnitID

	metadata := map[string]interface{}{"kind": req.Kind, "passed": req.Passed}
	if req.Score != nil {
		metadata["score"] = *req.Score
	}
	recordActivity(ctx, s.activities, s.logger, ActivityEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    models.ActivityOutcomeRecorded,
		CourseID:  req.CourseID,
		StudentID: uintPtr(req.StudentID),
		UnitID:    uintPtr(unit.ID),
		Metadata:  metadata,
	})

	if response.Completed {
		observability.UnitCompletions().WithLabelValues("completed").Inc()
		s.afterCompletion(ctx, actor, req.StudentID, req.CourseID, unit.ID, outcome, "outcome")
	} else {
		s.invalidate(ctx, ProgressChange{StudentID: req.StudentID, CourseID: req.CourseID, Reason: "outcome"})
	}
	observability.ProgressRequests().WithLabelValues("outcome", "success").Inc()

	return response, nil
}

func (s *progressService) ManualUnlock(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint, req dto.ManualUnlockRequest) (dto.UnitProgressResponse, error) {
	ctx, span := s.tracer.Start(ctx, "progress.manual_unlock", trace.WithAttributes(
		attribute.Int64("progress.student_id", int64(studentID)),
		attribute.Int64("progress.unit_id", int64(unitID)),
	))
	defer span.End()

	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = models.UnlockMethodManual
	}
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.UnitProgressResponse{}, err
	}

	initResult, err := s.GetOrInitialize(ctx, studentID, courseID)
	if err != nil {
		span.RecordError(err)
		return dto.UnitProgressResponse{}, err
	}
	unit, ok := progression.FindUnit(initResult.Units, unitID)
	if !ok {
		return dto.UnitProgressResponse{}, s.missingUnitError(ctx, unitID)
	}
	if req.Method == models.UnlockMethodFree && !unit.IsOptional {
		return dto.UnitProgressResponse{}, ErrFreeUnlockRequiresOptional
	}

	var reason *string
	if clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Reason)); clean != "" {
		reason = &clean
	}
	var actorID *uint
	if actor.ID != 0 {
		actorID = uintPtr(actor.ID)
	}

	var (
		row     models.UnitProgress
		changed bool
	)
	err = s.progress.Transaction(ctx, func(tx *gorm.DB) error {
		current, err := s.lockRow(ctx, tx, studentID, unit.ID)
		if err != nil {
			return err
		}
		if current.IsUnlocked {
			row = current
			return nil
		}

		changed, err = s.progress.Unlock(ctx, tx, studentID, unit.ID, repository.UnlockUpdate{
			Method: req.Method,
			At:     s.now().UTC(),
			By:     actorID,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		row, err = s.progress.LockForUpdate(ctx, tx, studentID, unit.ID)
		return err
	})
	if err != nil {
		err = translateRepoError(err)
		span.RecordError(err)
		s.countContention("manual_unlock", err)
		return dto.UnitProgressResponse{}, err
	}

	if changed {
		s.invalidate(ctx, ProgressChange{StudentID: studentID, CourseID: courseID, Reason: "manual_unlock"})
		metadata := map[string]interface{}{"method": req.Method}
		if reason != nil {
			metadata["reason"] = *reason
		}
		recordActivity(ctx, s.activities, s.logger, ActivityEntry{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    models.ActivityUnitUnlocked,
			CourseID:  courseID,
			StudentID: uintPtr(studentID),
			UnitID:    uintPtr(unit.ID),
			Metadata:  metadata,
		})
	}

	return dto.NewUnitProgressResponse(unit, row), nil
}

func (s *progressService) AuditStudent(ctx context.Context, studentID, courseID uint) (dto.AdminStudentProgressResponse, error) {
	if !s.caps.ProgressTable {
		return dto.AdminStudentProgressResponse{}, ErrStorageNotProvisioned
	}

	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return dto.AdminStudentProgressResponse{}, translateRepoError(err)
	}
	rows, err := s.progress.ListByStudentCourse(ctx, nil, studentID, courseID)
	if err != nil {
		return dto.AdminStudentProgressResponse{}, translateRepoError(err)
	}
	progress := progression.IndexProgress(rows)

	response := dto.AdminStudentProgressResponse{
		CourseProgressResponse: buildProgressView(studentID, courseID, units, progress, s.resolveDeadlines(ctx, studentID, courseID, units)),
		FrontierValid:          true,
	}
	if err := s.classifier.CheckFrontier(units, progress); err != nil {
		response.FrontierValid = false
		response.FrontierError = err.Error()
		s.logger.Warn().Err(err).Uint("student_id", studentID).Uint("course_id", courseID).Msg("unlock frontier violation detected")
	}

	return response, nil
}

// applyCompletion performs the Unlocked -> Completed transition on a row already locked by
// tx and unlocks the next chain unit. Completed rows are returned untouched.
func (s *progressService) applyCompletion(ctx context.Context, tx *gorm.DB, studentID, courseID uint, row models.UnitProgress, units []models.Unit) (completionOutcome, error) {
	if row.IsCompleted {
		return completionOutcome{AlreadyCompleted: true, CompletedAt: row.CompletedAt}, nil
	}
	if !row.IsUnlocked {
		return completionOutcome{}, ErrUnitLocked
	}

	now := s.now().UTC()
	if err := s.progress.MarkCompleted(ctx, tx, row.ID, now); err != nil {
		return completionOutcome{}, err
	}
	outcome := completionOutcome{CompletedAt: &now}

	nextID, ok := s.classifier.NextEligibleUnit(units, row.UnitID)
	if !ok {
		return outcome, nil
	}

	unlocked, err := s.unlockNext(ctx, tx, studentID, courseID, nextID, now)
	if err != nil {
		return completionOutcome{}, err
	}
	if unlocked {
		outcome.UnlockedNextUnitID = uintPtr(nextID)
	}
	return outcome, nil
}

// unlockNext inserts the next unit's row unlocked, or locks and unlocks an existing locked
// row. Rows that are already unlocked keep their method and timestamp.
func (s *progressService) unlockNext(ctx context.Context, tx *gorm.DB, studentID, courseID, unitID uint, now time.Time) (bool, error) {
	unlockedAt := now
	inserted, err := s.progress.CreateMissing(ctx, tx, []models.UnitProgress{{
		StudentID:    studentID,
		UnitID:       unitID,
		CourseID:     courseID,
		IsUnlocked:   true,
		UnlockedAt:   &unlockedAt,
		UnlockMethod: models.UnlockMethodAutomatic,
	}})
	if err != nil {
		return false, err
	}
	if inserted > 0 {
		return true, nil
	}

	next, err := s.progress.LockForUpdate(ctx, tx, studentID, unitID)
	if err != nil {
		return false, err
	}
	if next.IsUnlocked {
		return false, nil
	}
	return s.progress.Unlock(ctx, tx, studentID, unitID, repository.UnlockUpdate{Method: models.UnlockMethodAutomatic, At: now})
}

func (s *progressService) lockRow(ctx context.Context, tx *gorm.DB, studentID, unitID uint) (models.UnitProgress, error) {
	row, err := s.progress.LockForUpdate(ctx, tx, studentID, unitID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UnitProgress{}, ErrProgressNotInitialized
	}
	return row, err
}

func (s *progressService) loadCourseUnit(ctx context.Context, courseID, unitID uint) ([]models.Unit, models.Unit, error) {
	if !s.caps.ProgressTable {
		return nil, models.Unit{}, ErrStorageNotProvisioned
	}
	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, models.Unit{}, translateRepoError(err)
	}
	unit, ok := progression.FindUnit(units, unitID)
	if !ok {
		return nil, models.Unit{}, s.missingUnitError(ctx, unitID)
	}
	return units, unit, nil
}

func (s *progressService) missingUnitError(ctx context.Context, unitID uint) error {
	if _, err := s.units.GetByID(ctx, unitID); err != nil {
		return translateRepoError(err)
	}
	return ErrUnitNotInCourse
}

func (s *progressService) afterCompletion(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint, outcome completionOutcome, trigger string) {
	s.invalidate(ctx, ProgressChange{StudentID: studentID, CourseID: courseID, Reason: trigger})

	metadata := map[string]interface{}{"trigger": trigger}
	if outcome.UnlockedNextUnitID != nil {
		metadata["unlocked_next_unit_id"] = *outcome.UnlockedNextUnitID
	}
	recordActivity(ctx, s.activities, s.logger, ActivityEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    models.ActivityUnitCompleted,
		CourseID:  courseID,
		StudentID: uintPtr(studentID),
		UnitID:    uintPtr(unitID),
		Metadata:  metadata,
	})

	event := s.logger.Info().Uint("student_id", studentID).Uint("course_id", courseID).Uint("unit_id", unitID)
	if outcome.UnlockedNextUnitID != nil {
		event = event.Uint("unlocked_next_unit_id", *outcome.UnlockedNextUnitID)
	}
	event.Msg("unit completed")
}

func (s *progressService) completionFailed(span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, operation+" failed")

	kind := Classify(err)
	switch kind {
	case KindNotEligible:
		observability.UnitCompletions().WithLabelValues("rejected").Inc()
	case KindContention:
		observability.UnitCompletions().WithLabelValues("contention").Inc()
	default:
		observability.UnitCompletions().WithLabelValues("error").Inc()
	}
	s.countContention(operation, err)
	observability.ProgressRequests().WithLabelValues(operation, kind.String()).Inc()
	return err
}

func (s *progressService) countContention(operation string, err error) {
	if errors.Is(err, ErrContention) {
		observability.LockContention().WithLabelValues(operation).Inc()
		s.logger.Warn().Err(err).Str("operation", operation).Msg("progress transaction contended")
	}
}

func (s *progressService) resolveDeadlines(ctx context.Context, studentID, courseID uint, units []models.Unit) map[uint]progression.EffectiveDeadline {
	if s.deadlines == nil {
		return progression.ResolveDeadlines(units, nil)
	}
	deadlines, err := s.deadlines.Resolve(ctx, studentID, courseID, units)
	if err != nil {
		s.logger.Warn().Err(err).Uint("course_id", courseID).Msg("deadline resolution degraded to unit defaults")
		return progression.ResolveDeadlines(units, nil)
	}
	return deadlines
}

func (s *progressService) invalidate(ctx context.Context, change ProgressChange) {
	if s.invalidator == nil {
		return
	}
	s.invalidator.Invalidate(ctx, change)
}

func buildProgressView(studentID, courseID uint, units []models.Unit, progress map[uint]models.UnitProgress, deadlines map[uint]progression.EffectiveDeadline) dto.CourseProgressResponse {
	ordered := progression.SortUnits(units)
	items := make([]dto.UnitProgressResponse, 0, len(ordered))
	for _, unit := range ordered {
		item := dto.NewUnitProgressResponse(unit, progress[unit.ID])
		if deadline, ok := deadlines[unit.ID]; ok {
			value := deadline.Deadline
			item.Deadline = &value
			item.DeadlineSource = deadline.Source
		}
		items = append(items, item)
	}
	return dto.CourseProgressResponse{StudentID: studentID, CourseID: courseID, Units: items}
}
