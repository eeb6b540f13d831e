package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPublishCapabilities(t *testing.T) {
	PublishCapabilities(map[string]bool{"progress_table": true, "deadline_overrides": false})

	require.Equal(t, 1.0, testutil.ToFloat64(SchemaCapability().WithLabelValues("progress_table")))
	require.Equal(t, 0.0, testutil.ToFloat64(SchemaCapability().WithLabelValues("deadline_overrides")))
}

func TestMetricsHandlerServesProgressCollectors(t *testing.T) {
	UnitCompletions().WithLabelValues("completed").Inc()
	PublishCapabilities(map[string]bool{"unit_deadlines": true})

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "progress_unit_completions_total")
	require.Contains(t, string(body), `progress_schema_capability{capability="unit_deadlines"} 1`)
}
