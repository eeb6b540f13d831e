package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/models"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

// DeadlineResolver resolves the effective deadline of every unit for one student.
type DeadlineResolver interface {
	Resolve(ctx context.Context, studentID, courseID uint, units []models.Unit) (map[uint]progression.EffectiveDeadline, error)
}

// DeadlineService resolves effective deadlines and maintains per-student overrides.
type DeadlineService interface {
	DeadlineResolver
	ListEffective(ctx context.Context, studentID, courseID uint) ([]dto.EffectiveDeadlineResponse, error)
	UpsertOverride(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint, req dto.DeadlineOverrideRequest) (dto.DeadlineOverrideResponse, error)
	DeleteOverride(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint) error
}

type deadlineService struct {
	units       repository.UnitRepository
	overrides   repository.DeadlineOverrideRepository
	invalidator Invalidator
	activities  ActivityRecorder
	caps        database.Capabilities
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewDeadlineService constructs the deadline resolver.
func NewDeadlineService(units repository.UnitRepository, overrides repository.DeadlineOverrideRepository, invalidator Invalidator, activities ActivityRecorder, caps database.Capabilities, validate *validator.Validate, logger zerolog.Logger) DeadlineService {
	return &deadlineService{
		units:       units,
		overrides:   overrides,
		invalidator: invalidator,
		activities:  activities,
		caps:        caps,
		validator:   validate,
		logger:      logger.With().Str("component", "deadline_service").Logger(),
	}
}

// Resolve never fails because of a missing optional schema feature; absent overrides or
// default deadlines simply yield fewer entries.
func (s *deadlineService) Resolve(ctx context.Context, studentID, courseID uint, units []models.Unit) (map[uint]progression.EffectiveDeadline, error) {
	if !s.caps.DeadlineOverrides {
		return progression.ResolveDeadlines(units, nil), nil
	}

	overrides, err := s.overrides.ListForStudentCourse(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, repository.ErrSchemaMissing) {
			s.logger.Warn().Err(err).Msg("deadline overrides unreadable, using unit defaults")
			return progression.ResolveDeadlines(units, nil), nil
		}
		return nil, translateRepoError(err)
	}

	return progression.ResolveDeadlines(units, overrides), nil
}

func (s *deadlineService) ListEffective(ctx context.Context, studentID, courseID uint) ([]dto.EffectiveDeadlineResponse, error) {
	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, translateRepoError(err)
	}

	resolved, err := s.Resolve(ctx, studentID, courseID, units)
	if err != nil {
		return nil, err
	}

	items := make([]dto.EffectiveDeadlineResponse, 0, len(resolved))
	for _, unit := range progression.SortUnits(units) {
		deadline, ok := resolved[unit.ID]
		if !ok {
			continue
		}
		items = append(items, dto.EffectiveDeadlineResponse{UnitID: unit.ID, Deadline: deadline.Deadline, Source: deadline.Source})
	}
	return items, nil
}

func (s *deadlineService) UpsertOverride(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint, req dto.DeadlineOverrideRequest) (dto.DeadlineOverrideResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.DeadlineOverrideResponse{}, err
	}
	if !s.caps.DeadlineOverrides {
		return dto.DeadlineOverrideResponse{}, ErrFeatureUnavailable
	}
	if err := s.ensureUnitInCourse(ctx, courseID, unitID); err != nil {
		return dto.DeadlineOverrideResponse{}, err
	}

	override := models.DeadlineOverride{
		StudentID: studentID,
		CourseID:  courseID,
		UnitID:    unitID,
		Deadline:  req.Deadline.UTC(),
	}
	if actor.ID != 0 {
		override.CreatedBy = uintPtr(actor.ID)
	}

	if err := s.overrides.Upsert(ctx, &override); err != nil {
		return dto.DeadlineOverrideResponse{}, translateRepoError(err)
	}

	s.changed(ctx, actor, models.ActivityDeadlineSet, studentID, courseID, unitID, map[string]interface{}{
		"deadline": override.Deadline.Format(time.RFC3339),
	})

	return dto.DeadlineOverrideResponse{
		ID:        override.ID,
		StudentID: override.StudentID,
		CourseID:  override.CourseID,
		UnitID:    override.UnitID,
		Deadline:  override.Deadline,
		CreatedBy: override.CreatedBy,
		UpdatedAt: override.UpdatedAt,
	}, nil
}

func (s *deadlineService) DeleteOverride(ctx context.Context, actor ActivityActor, studentID, courseID, unitID uint) error {
	if !s.caps.DeadlineOverrides {
		return ErrFeatureUnavailable
	}

	deleted, err := s.overrides.Delete(ctx, studentID, courseID, unitID)
	if err != nil {
		return translateRepoError(err)
	}
	if !deleted {
		return ErrDeadlineOverrideNotFound
	}

	s.changed(ctx, actor, models.ActivityDeadlineCleared, studentID, courseID, unitID, nil)
	return nil
}

func (s *deadlineService) ensureUnitInCourse(ctx context.Context, courseID, unitID uint) error {
	unit, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return translateRepoError(err)
	}
	if unit.CourseID != courseID {
		return ErrUnitNotInCourse
	}
	return nil
}

func (s *deadlineService) changed(ctx context.Context, actor ActivityActor, action string, studentID, courseID, unitID uint, metadata map[string]interface{}) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, ProgressChange{StudentID: studentID, CourseID: courseID, Reason: action})
	}
	recordActivity(ctx, s.activities, s.logger, ActivityEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		CourseID:  courseID,
		StudentID: uintPtr(studentID),
		UnitID:    uintPtr(unitID),
		Metadata:  metadata,
	})
}
