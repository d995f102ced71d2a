package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/storage"
)

// Health check timeout for external dependencies
const healthCheckTimeout = 5 * time.Second

// setHealthCacheHeaders sets cache-control headers so health checks always see fresh results.
func setHealthCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// HealthHandler checks the record store and the storage backend.
// A failing database makes the instance unhealthy; a failing storage backend
// leaves it degraded. Both answer 503 since no upload can finish.
func HealthHandler(repos *repository.Repositories, gateway storage.Gateway, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.HealthCheckDuration.Observe(time.Since(start).Seconds())
		}()

		setHealthCacheHeaders(w)
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "storage": "ok"}
		status := "healthy"

		if repos.Ping != nil {
			if err := repos.Ping(ctx); err != nil {
				slog.Error("health check failed: database ping error", "error", err)
				checks["database"] = "unreachable"
				status = "unhealthy"
			}
		}
		if err := gateway.HealthCheck(ctx); err != nil {
			slog.Error("health check failed: storage backend error", "error", err)
			checks["storage"] = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		}

		metrics.HealthChecksTotal.WithLabelValues(status).Inc()
		updateHealthStatusGauge(status)

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, models.HealthResponse{
			Status:   status,
			Checks:   checks,
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Database: string(repos.DatabaseType),
		})
	}
}

// updateHealthStatusGauge updates the Prometheus health status gauge
func updateHealthStatusGauge(status string) {
	switch status {
	case "healthy":
		metrics.HealthStatus.Set(2)
	case "degraded":
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(0)
	}
}
