package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/service"
	"github.com/noah-isme/gema-progress-api/internal/utils"
)

// AdminProgressHandler exposes catalogue, unlock, deadline and outcome endpoints for staff.
type AdminProgressHandler struct {
	catalogue service.CatalogueService
	progress  service.ProgressService
	deadlines service.DeadlineService
	logger    zerolog.Logger
}

// NewAdminProgressHandler constructs the staff progression handler.
func NewAdminProgressHandler(catalogue service.CatalogueService, progress service.ProgressService, deadlines service.DeadlineService, logger zerolog.Logger) *AdminProgressHandler {
	return &AdminProgressHandler{
		catalogue: catalogue,
		progress:  progress,
		deadlines: deadlines,
		logger:    logger.With().Str("component", "admin_progress_handler").Logger(),
	}
}

// Register wires the course scoped staff routes.
func (h *AdminProgressHandler) Register(router fiber.Router) {
	router.Get("/:courseId/units", h.listUnits)
	router.Put("/:courseId/units", h.syncUnits)

	students := router.Group("/:courseId/students/:studentId")
	students.Get("/progress", h.studentProgress)
	students.Post("/units/:unitId/unlock", h.unlock)
	students.Put("/units/:unitId/deadline", h.upsertDeadline)
	students.Delete("/units/:unitId/deadline", h.deleteDeadline)
}

// RegisterOutcomes wires grading outcome ingestion.
func (h *AdminProgressHandler) RegisterOutcomes(router fiber.Router) {
	router.Post("/outcomes", h.recordOutcome)
}

func (h *AdminProgressHandler) listUnits(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	units, err := h.catalogue.List(c.UserContext(), courseID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, units, "units retrieved", fiber.Map{"total": len(units)})
}

func (h *AdminProgressHandler) syncUnits(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	var payload dto.UnitSyncRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	units, err := h.catalogue.Sync(c.UserContext(), activityActorFromContext(c), courseID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "units synced", units)
}

func (h *AdminProgressHandler) studentProgress(c *fiber.Ctx) error {
	courseID, studentID, err := courseStudentParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.progress.AuditStudent(c.UserContext(), studentID, courseID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, report, "student progress retrieved", fiber.Map{"frontier_valid": report.FrontierValid})
}

func (h *AdminProgressHandler) unlock(c *fiber.Ctx) error {
	courseID, studentID, err := courseStudentParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	unitID, err := parseUintParam(c, "unitId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid unit id")
	}

	var payload dto.ManualUnlockRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	row, err := h.progress.ManualUnlock(c.UserContext(), activityActorFromContext(c), studentID, courseID, unitID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "unit unlocked", row)
}

func (h *AdminProgressHandler) upsertDeadline(c *fiber.Ctx) error {
	courseID, studentID, err := courseStudentParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	unitID, err := parseUintParam(c, "unitId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid unit id")
	}

	var payload dto.DeadlineOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	override, err := h.deadlines.UpsertOverride(c.UserContext(), activityActorFromContext(c), studentID, courseID, unitID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "deadline override saved", override)
}

func (h *AdminProgressHandler) deleteDeadline(c *fiber.Ctx) error {
	courseID, studentID, err := courseStudentParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	unitID, err := parseUintParam(c, "unitId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid unit id")
	}

	if err := h.deadlines.DeleteOverride(c.UserContext(), activityActorFromContext(c), studentID, courseID, unitID); err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminProgressHandler) recordOutcome(c *fiber.Ctx) error {
	var payload dto.OutcomeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.progress.RecordOutcome(c.UserContext(), activityActorFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "outcome recorded", result)
}

func courseStudentParams(c *fiber.Ctx) (uint, uint, error) {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return 0, 0, errInvalidCourseID
	}
	studentID, err := parseUintParam(c, "studentId")
	if err != nil {
		return 0, 0, errInvalidStudentID
	}
	return courseID, studentID, nil
}
