package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the progression collectors in the Prometheus or OpenMetrics format.
// A failing collector drops its own series instead of failing the whole scrape.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	handler := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		}),
	)
	return adaptor.HTTPHandler(handler)
}

// PublishCapabilities exports the startup schema check so dashboards can flag degraded nodes.
func PublishCapabilities(flags map[string]bool) {
	for name, present := range flags {
		value := 0.0
		if present {
			value = 1
		}
		SchemaCapability().WithLabelValues(name).Set(value)
	}
}
