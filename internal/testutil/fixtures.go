package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fjmerc/chunkvault/internal/models"
)

var keySeq atomic.Int64

// SampleRecord returns a pending direct-upload record owned by owner
func SampleRecord(owner string) *models.UploadRecord {
	return &models.UploadRecord{
		UserID:       owner,
		OriginalName: "report.pdf",
		MimeType:     "application/pdf",
		Size:         1024 * 1024,
		Key:          fmt.Sprintf("uploads/%s/%d-%016x-report.pdf", owner, time.Now().UnixMilli(), keySeq.Add(1)),
		Status:       models.StatusPending,
	}
}

// SampleChunkedRecord returns a pending 12 MiB multipart record with 5 MiB parts
func SampleChunkedRecord(owner, sessionID string) *models.UploadRecord {
	rec := SampleRecord(owner)
	rec.OriginalName = "archive.zip"
	rec.MimeType = "application/zip"
	rec.Size = 12 * 1024 * 1024
	rec.Key = fmt.Sprintf("uploads/%s/%d-%016x-archive.zip", owner, time.Now().UnixMilli(), keySeq.Add(1))
	rec.UploadID = sessionID
	rec.PartSize = 5 * 1024 * 1024
	return rec
}

// SampleGrant returns a non-expiring grant
func SampleGrant(fileID, userID string, action models.GrantAction) *models.FileGrant {
	return &models.FileGrant{
		FileID:    fileID,
		UserID:    userID,
		Action:    action,
		GrantedBy: "owner",
	}
}
