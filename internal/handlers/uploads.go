package handlers

import (
	"context"
	"net/http"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/uploads"
)

// postHandler adapts a service call taking a JSON body into a POST handler.
func postHandler[Req, Resp any](status int, call func(ctx context.Context, caller uploads.Caller, req Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req Req
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := call(r.Context(), caller, req)
		writeResult(w, r, status, resp, err)
	}
}

// fileIDHandler adapts a service call keyed by the fileId query parameter
// into a GET handler.
func fileIDHandler[Resp any](call func(ctx context.Context, caller uploads.Caller, fileID string) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		caller, err := callerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := call(r.Context(), caller, r.URL.Query().Get("fileId"))
		writeResult(w, r, http.StatusOK, resp, err)
	}
}

// InitiateUploadHandler handles POST /api/files/initiate
func InitiateUploadHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.InitiateUploadRequest](http.StatusCreated, svc.Initiate)
}

// BeginUploadHandler handles POST /api/files/begin
func BeginUploadHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.BeginUploadRequest](http.StatusOK, svc.Begin)
}

// PartURLHandler handles POST /api/files/multipart-part-url
func PartURLHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.PartURLRequest](http.StatusOK, svc.PartURL)
}

// CompleteMultipartHandler handles POST /api/files/complete-multipart
func CompleteMultipartHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.CompleteMultipartRequest](http.StatusOK, svc.CompleteMultipart)
}

// CompleteDirectHandler handles POST /api/files/complete
func CompleteDirectHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.CompleteDirectRequest](http.StatusOK, svc.CompleteDirect)
}

// AbortUploadHandler handles POST /api/files/abort
func AbortUploadHandler(svc *uploads.Service) http.HandlerFunc {
	return postHandler[models.AbortUploadRequest](http.StatusOK, svc.Abort)
}

// UploadedPartsHandler handles GET /api/files/parts?fileId=
func UploadedPartsHandler(svc *uploads.Service) http.HandlerFunc {
	return fileIDHandler(svc.UploadedParts)
}

// UploadStatusHandler handles GET /api/files/status?fileId=
func UploadStatusHandler(svc *uploads.Service) http.HandlerFunc {
	return fileIDHandler(svc.Status)
}

// UploadSessionHandler handles GET /api/files/upload-id?fileId=
func UploadSessionHandler(svc *uploads.Service) http.HandlerFunc {
	return fileIDHandler(svc.UploadSession)
}
