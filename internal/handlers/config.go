package handlers

import (
	"net/http"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/models"
)

// PublicConfigHandler returns the upload limits clients need to plan an upload
func PublicConfigHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		writeJSON(w, http.StatusOK, models.PublicConfig{
			ChunkSize:        cfg.ChunkSize,
			ChunkThreshold:   cfg.ChunkThreshold,
			MaxFileSize:      cfg.MaxFileSize,
			AllowedMimeTypes: cfg.AllowedMimeTypes,
			PresignExpiry:    int(cfg.PresignExpiry.Seconds()),
		})
	}
}
