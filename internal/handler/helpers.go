package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/middleware"
	"github.com/noah-isme/gema-progress-api/internal/service"
	"github.com/noah-isme/gema-progress-api/internal/utils"
)

var (
	errInvalidIdentifier = errors.New("invalid identifier")
	errInvalidCourseID   = errors.New("invalid course id")
	errInvalidStudentID  = errors.New("invalid student id")
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidIdentifier
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func activityActorFromContext(c *fiber.Ctx) service.ActivityActor {
	return service.ActivityActor{
		ID:   userIDFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// sendServiceError maps progression failures onto HTTP statuses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	kind := service.Classify(err)
	switch kind {
	case service.KindValidation:
		return utils.SendErrorCode(c, fiber.StatusBadRequest, kind.String(), err.Error())
	case service.KindNotEligible:
		return utils.SendErrorCode(c, fiber.StatusUnprocessableEntity, kind.String(), err.Error())
	case service.KindNotFound:
		return utils.SendErrorCode(c, fiber.StatusNotFound, kind.String(), err.Error())
	case service.KindConsistency:
		return utils.SendErrorCode(c, fiber.StatusConflict, kind.String(), err.Error())
	case service.KindContention:
		c.Set(fiber.HeaderRetryAfter, "1")
		return utils.SendErrorCode(c, fiber.StatusConflict, kind.String(), "progress is being updated, retry shortly")
	case service.KindDeployment:
		if errors.Is(err, service.ErrFeatureUnavailable) {
			return utils.SendErrorCode(c, fiber.StatusNotImplemented, "feature_unavailable", err.Error())
		}
		requestLogger(logger, c).Error().Err(err).Msg("progress storage unavailable")
		return utils.SendErrorCode(c, fiber.StatusServiceUnavailable, kind.String(), "progress storage is not available")
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
