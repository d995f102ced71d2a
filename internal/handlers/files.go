package handlers

import (
	"net/http"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/uploads"
)

// ListFilesHandler handles GET /api/files?limit=&offset=
func ListFilesHandler(svc *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, r, err)
			return
		}
		offset, err := queryInt(r, "offset")
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := svc.List(r.Context(), caller, limit, offset)
		writeResult(w, r, http.StatusOK, resp, err)
	}
}

// DownloadURLHandler handles GET /api/files/download?fileId=&expiresIn=
func DownloadURLHandler(svc *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		expiresIn, err := queryInt(r, "expiresIn")
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := svc.DownloadURL(r.Context(), caller, r.URL.Query().Get("fileId"), expiresIn)
		writeResult(w, r, http.StatusOK, resp, err)
	}
}

// DeleteFileHandler handles POST /api/files/delete
func DeleteFileHandler(svc *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req models.FileIDRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := svc.Delete(r.Context(), caller, req.FileID)
		writeResult(w, r, http.StatusOK, resp, err)
	}
}

// GrantHandler handles POST /api/files/grants
func GrantHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.GrantRequest](http.StatusCreated, svc.Grant)
}

// RevokeHandler handles POST /api/files/grants/revoke
func RevokeHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.RevokeRequest](http.StatusOK, svc.Revoke)
}

// AuditLogHandler handles GET /api/files/audit?fileId=&limit=
func AuditLogHandler(svc *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := svc.AuditLog(r.Context(), caller, r.URL.Query().Get("fileId"), limit)
		writeResult(w, r, http.StatusOK, resp, err)
	}
}
