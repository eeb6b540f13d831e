package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-progress-api/internal/config"
	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string                `json:"status"`
	Timestamp    time.Time             `json:"timestamp"`
	Service      string                `json:"service"`
	Environment  string                `json:"environment"`
	Capabilities database.Capabilities `json:"capabilities"`
}

// HealthCheck reports application health together with the storage features detected at startup.
func HealthCheck(cfg config.Config, caps database.Capabilities) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "ok"
		if !caps.ProgressTable {
			status = "degraded"
		}

		payload := HealthResponse{
			Status:       status,
			Timestamp:    time.Now().UTC(),
			Service:      cfg.AppName,
			Environment:  cfg.AppEnv,
			Capabilities: caps,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
