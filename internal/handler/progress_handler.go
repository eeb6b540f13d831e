package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/service"
	"github.com/noah-isme/gema-progress-api/internal/utils"
)

// ProgressHandler exposes the student facing progression endpoints.
type ProgressHandler struct {
	progress  service.ProgressService
	dashboard service.ProgressDashboardService
	deadlines service.DeadlineService
	logger    zerolog.Logger
}

// NewProgressHandler constructs the progress handler.
func NewProgressHandler(progress service.ProgressService, dashboard service.ProgressDashboardService, deadlines service.DeadlineService, logger zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progress:  progress,
		dashboard: dashboard,
		deadlines: deadlines,
		logger:    logger.With().Str("component", "progress_handler").Logger(),
	}
}

// Register wires the course progression routes. Guards run in front of the completion route only.
func (h *ProgressHandler) Register(router fiber.Router, completeGuards ...fiber.Handler) {
	router.Get("/:courseId/progress", h.progressView)
	router.Get("/:courseId/progress/summary", h.summary)
	router.Get("/:courseId/deadlines", h.listDeadlines)

	complete := append(append([]fiber.Handler(nil), completeGuards...), h.complete)
	router.Post("/:courseId/units/:unitId/complete", complete...)
}

func (h *ProgressHandler) progressView(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	response, err := h.progress.GetProgress(c.UserContext(), studentID, courseID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	meta := fiber.Map{
		"created":      response.Created,
		"created_rows": response.CreatedRows,
	}
	return utils.OK(c, response, "course progress retrieved", meta)
}

func (h *ProgressHandler) complete(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}
	unitID, err := parseUintParam(c, "unitId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid unit id")
	}

	response, err := h.progress.CompleteUnit(c.UserContext(), activityActorFromContext(c), studentID, courseID, unitID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	message := "unit completed"
	if response.AlreadyCompleted {
		message = "unit already completed"
	}
	return utils.SendSuccess(c, message, response)
}

func (h *ProgressHandler) summary(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	response, err := h.dashboard.GetSummary(c.UserContext(), studentID, courseID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, response, "progress summary retrieved", fiber.Map{"cache_hit": response.CacheHit})
}

func (h *ProgressHandler) listDeadlines(c *fiber.Ctx) error {
	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	items, err := h.deadlines.ListEffective(c.UserContext(), studentID, courseID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "deadlines retrieved", items)
}
