package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjmerc/chunkvault/internal/metrics"
)

// MetricsHandler registers the upload record collector and returns the
// Prometheus metrics endpoint.
func MetricsHandler(counter metrics.StatusCounter) http.Handler {
	collector := metrics.NewRecordsCollector(counter)
	if err := prometheus.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			slog.Error("failed to register records collector", "error", err)
		}
	}

	return promhttp.Handler()
}
