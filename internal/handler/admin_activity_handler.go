package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/service"
	"github.com/noah-isme/gema-progress-api/internal/utils"
)

// AdminActivityHandler exposes the progression audit log.
type AdminActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewAdminActivityHandler constructs the handler.
func NewAdminActivityHandler(service service.ActivityService, logger zerolog.Logger) *AdminActivityHandler {
	return &AdminActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_activity_handler").Logger(),
	}
}

// Register attaches activity log routes to the router group.
func (h *AdminActivityHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

func (h *AdminActivityHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	if page <= 0 {
		page = 1
	}

	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}
	if pageSize <= 0 {
		pageSize = 25
	} else if pageSize > 200 {
		pageSize = 200
	}

	req := dto.ActivityListRequest{
		Page:     page,
		PageSize: pageSize,
		Action:   strings.TrimSpace(c.Query("action")),
	}

	filters := []struct {
		key    string
		target *uint
	}{
		{"actor_id", &req.ActorID},
		{"student_id", &req.StudentID},
		{"course_id", &req.CourseID},
	}
	for _, filter := range filters {
		value, err := parseQueryInt(c, filter.key)
		if err != nil || value < 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid "+strings.ReplaceAll(filter.key, "_", " "))
		}
		*filter.target = uint(value)
	}

	response, err := h.service.List(c.UserContext(), req)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list activity logs")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list activity logs")
	}

	return utils.SendSuccess(c, "activity logs", response)
}
