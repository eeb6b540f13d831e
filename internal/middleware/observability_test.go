package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-progress-api/internal/observability"
)

func TestObservabilityCountsProgressRoutes(t *testing.T) {
	app := fiber.New()
	app.Use(Observability(zerolog.Nop()))
	app.Get("/api/v2/courses/:courseId/progress", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/api/v1/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	counter := observability.HTTPRequests().WithLabelValues(http.MethodGet, "/api/v2/courses/:courseId/progress", "200")
	before := testutil.ToFloat64(counter)

	for _, target := range []string{"/api/v2/courses/1/progress", "/api/v2/courses/2/progress", "/api/v1/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	require.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=25ms", latencyBucket(10*time.Millisecond))
	require.Equal(t, "<=250ms", latencyBucket(200*time.Millisecond))
	require.Equal(t, ">500ms", latencyBucket(time.Second))
}
