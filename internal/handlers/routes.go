package handlers

import (
	"net/http"
	"time"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/middleware"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/internal/utils"
)

// Dependencies are the collaborators the router hands to its handlers.
type Dependencies struct {
	Config    *config.Config
	Repos     *repository.Repositories
	Gateway   storage.Gateway
	Service   *uploads.Service
	StartTime time.Time
}

// NewRouter builds the HTTP handler for the API. Every /api/files route
// requires an authenticated caller; health, config and metrics do not.
func NewRouter(deps Dependencies) http.Handler {
	trust := utils.NewProxyTrust(deps.Config.TrustProxyHeaders, deps.Config.TrustedProxyIPs)
	requireUser := middleware.RequireUser(deps.Repos.Sessions, trust)
	svc := deps.Service

	mux := http.NewServeMux()
	api := func(path string, h http.HandlerFunc) {
		mux.Handle(path, requireUser(h))
	}

	api("/api/files", ListFilesHandler(svc))
	api("/api/files/initiate", InitiateUploadHandler(svc))
	api("/api/files/begin", BeginUploadHandler(svc))
	api("/api/files/multipart-part-url", PartURLHandler(svc))
	api("/api/files/complete-multipart", CompleteMultipartHandler(svc))
	api("/api/files/complete", CompleteDirectHandler(svc))
	api("/api/files/abort", AbortUploadHandler(svc))
	api("/api/files/parts", UploadedPartsHandler(svc))
	api("/api/files/upload-id", UploadSessionHandler(svc))
	api("/api/files/status", UploadStatusHandler(svc))
	api("/api/files/download", DownloadURLHandler(svc))
	api("/api/files/delete", DeleteFileHandler(svc))
	api("/api/files/grants", GrantHandler(svc))
	api("/api/files/grants/revoke", RevokeHandler(svc))
	api("/api/files/audit", AuditLogHandler(svc))

	mux.HandleFunc("/api/config", PublicConfigHandler(deps.Config))
	mux.HandleFunc("/health", HealthHandler(deps.Repos, deps.Gateway, deps.StartTime))
	mux.Handle("/metrics", MetricsHandler(deps.Repos.Uploads))

	var handler http.Handler = mux
	handler = metrics.Middleware(handler)
	handler = middleware.SecurityHeadersMiddleware(handler)
	handler = middleware.LoggingMiddleware(trust)(handler)
	handler = middleware.RecoveryMiddleware(handler)
	return handler
}
