package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/models"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
)

// CatalogueService exposes the unit catalogue of a course to authoring collaborators.
type CatalogueService interface {
	List(ctx context.Context, courseID uint) ([]dto.UnitResponse, error)
	Sync(ctx context.Context, actor ActivityActor, courseID uint, req dto.UnitSyncRequest) ([]dto.UnitResponse, error)
}

type catalogueService struct {
	units       repository.UnitRepository
	invalidator Invalidator
	activities  ActivityRecorder
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewCatalogueService constructs the catalogue service.
func NewCatalogueService(units repository.UnitRepository, invalidator Invalidator, activities ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) CatalogueService {
	return &catalogueService{
		units:       units,
		invalidator: invalidator,
		activities:  activities,
		validator:   validate,
		logger:      logger.With().Str("component", "catalogue_service").Logger(),
	}
}

func (s *catalogueService) List(ctx context.Context, courseID uint) ([]dto.UnitResponse, error) {
	units, err := s.units.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return unitResponses(units), nil
}

// Sync upserts the given units. Existing progress rows are left alone; new units are picked
// up by the next bootstrap of each student.
func (s *catalogueService) Sync(ctx context.Context, actor ActivityActor, courseID uint, req dto.UnitSyncRequest) ([]dto.UnitResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	units := make([]models.Unit, 0, len(req.Units))
	for _, payload := range req.Units {
		unit := models.Unit{
			ID:              payload.ID,
			CourseID:        courseID,
			Title:           strings.TrimSpace(payload.Title),
			OrderIndex:      payload.OrderIndex,
			UnlockCondition: payload.UnlockCondition,
			IsIntro:         payload.IsIntro,
			IsOptional:      payload.IsOptional,
		}
		if payload.Deadline != nil {
			deadline := payload.Deadline.UTC()
			unit.Deadline = &deadline
		}
		units = append(units, unit)
	}

	saved, err := s.units.UpsertBatch(ctx, courseID, units)
	if err != nil {
		return nil, translateRepoError(err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, ProgressChange{CourseID: courseID, Reason: "catalogue"})
	}
	recordActivity(ctx, s.activities, s.logger, ActivityEntry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    models.ActivityCatalogueSynced,
		CourseID:  courseID,
		Metadata:  map[string]interface{}{"units": len(saved)},
	})
	s.logger.Info().Uint("course_id", courseID).Int("units", len(saved)).Msg("catalogue synced")

	return unitResponses(progression.SortUnits(saved)), nil
}

func unitResponses(units []models.Unit) []dto.UnitResponse {
	items := make([]dto.UnitResponse, 0, len(units))
	for _, unit := range units {
		items = append(items, dto.NewUnitResponse(unit))
	}
	return items
}
