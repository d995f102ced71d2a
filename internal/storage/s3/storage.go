// Package s3 implements the storage Gateway for AWS S3 and S3-compatible stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

const (
	// importPartSize is the part size the transfer manager uses for server-side imports
	importPartSize = 8 * 1024 * 1024

	healthCheckTimeout = 5 * time.Second
)

// Config holds configuration for S3 storage.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool // Use path-style addressing (required for MinIO)
}

// Gateway implements storage.Gateway on top of the S3 multipart API.
type Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	bucket    string
}

var (
	_ storage.Gateway      = (*Gateway)(nil)
	_ storage.ObjectWriter = (*Gateway)(nil)
)

// NewGateway creates a Gateway and verifies the bucket is reachable.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}

	// Static credentials win over the default chain when both halves are set
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	g := newGateway(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket)

	if _, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return g, nil
}

func newGateway(client *s3.Client, bucket string) *Gateway {
	return &Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = importPartSize
		}),
		bucket: bucket,
	}
}

// CreateMultipartSession opens a multipart upload.
func (g *Gateway) CreateMultipartSession(ctx context.Context, key, mimeType string, metadata map[string]string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", storage.NewStorageErrorWithKind("CreateMultipartSession", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", classify("CreateMultipartSession", key, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", storage.NewStorageErrorWithKind("CreateMultipartSession", key, uploaderr.BackendUnavailable,
			errors.New("empty upload id"), "store did not return a multipart session")
	}

	return *out.UploadId, nil
}

// PresignPartUpload returns a PUT URL bound to one part of a session.
func (g *Gateway) PresignPartUpload(ctx context.Context, key, sessionID string, partNumber int, expiry time.Duration) (string, error) {
	if err := g.validateSession(key, sessionID); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignPartUpload", key, uploaderr.InvalidInput, err, err.Error())
	}
	if err := storage.ValidatePartNumber(partNumber); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignPartUpload", key, uploaderr.InvalidInput, err, err.Error())
	}

	req, err := g.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(sessionID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify("PresignPartUpload", key, err)
	}
	return req.URL, nil
}

// PresignDirectUpload returns a PUT URL for a single-shot upload.
func (g *Gateway) PresignDirectUpload(ctx context.Context, key, mimeType string, expiry time.Duration) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignDirectUpload", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	req, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify("PresignDirectUpload", key, err)
	}
	return req.URL, nil
}

// CompleteMultipartSession merges the parts in ascending part-number order.
func (g *Gateway) CompleteMultipartSession(ctx context.Context, key, sessionID string, parts []storage.CompletedPart) (*storage.CompletedObject, error) {
	if err := g.validateSession(key, sessionID); err != nil {
		return nil, storage.NewStorageErrorWithKind("CompleteMultipartSession", key, uploaderr.InvalidInput, err, err.Error())
	}
	if len(parts) == 0 {
		return nil, storage.NewStorageErrorWithKind("CompleteMultipartSession", key, uploaderr.IncompletePartSet,
			errors.New("no parts"), "no parts to complete")
	}

	sorted := make([]storage.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}

	out, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sessionID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, classify("CompleteMultipartSession", key, err)
	}

	return &storage.CompletedObject{
		ETag:    aws.ToString(out.ETag),
		Version: aws.ToString(out.VersionId),
	}, nil
}

// AbortMultipartSession discards a session; an already-gone session is fine.
func (g *Gateway) AbortMultipartSession(ctx context.Context, key, sessionID string) error {
	if err := g.validateSession(key, sessionID); err != nil {
		return storage.NewStorageErrorWithKind("AbortMultipartSession", key, uploaderr.InvalidInput, err, err.Error())
	}

	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		if isMissing(err) {
			return nil
		}
		return classify("AbortMultipartSession", key, err)
	}
	return nil
}

// ListUploadedParts pages through the parts stored under a session.
func (g *Gateway) ListUploadedParts(ctx context.Context, key, sessionID string) ([]storage.UploadedPart, error) {
	if err := g.validateSession(key, sessionID); err != nil {
		return nil, storage.NewStorageErrorWithKind("ListUploadedParts", key, uploaderr.InvalidInput, err, err.Error())
	}

	var parts []storage.UploadedPart
	paginator := s3.NewListPartsPaginator(g.client, &s3.ListPartsInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("ListUploadedParts", key, err)
		}
		for _, p := range page.Parts {
			parts = append(parts, storage.UploadedPart{
				PartNumber:   int(aws.ToInt32(p.PartNumber)),
				ETag:         aws.ToString(p.ETag),
				Size:         aws.ToInt64(p.Size),
				LastModified: aws.ToTime(p.LastModified),
			})
		}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// PresignDownload returns a GET URL, optionally forcing an attachment name.
func (g *Gateway) PresignDownload(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignDownload", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}

	req, err := g.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify("PresignDownload", key, err)
	}
	return req.URL, nil
}

// DeleteObject removes an object from the bucket.
func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return storage.NewStorageErrorWithKind("DeleteObject", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isMissing(err) {
		return classify("DeleteObject", key, err)
	}
	return nil
}

// PutObject streams body into the bucket with the transfer manager, which
// switches to multipart transparently for large inputs.
func (g *Gateway) PutObject(ctx context.Context, key, mimeType string, body io.Reader) (*storage.ObjectInfo, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithKind("PutObject", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	out, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return nil, classify("PutObject", key, err)
	}

	head, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("PutObject", key, err)
	}

	return &storage.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ETag:        aws.ToString(out.ETag),
		ContentType: aws.ToString(head.ContentType),
	}, nil
}

// HealthCheck performs a health check on the S3 storage backend.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err != nil {
		return storage.NewStorageErrorWithKind("HealthCheck", g.bucket, uploaderr.BackendUnavailable, err, "S3 bucket not accessible")
	}
	return nil
}

func (g *Gateway) validateSession(key, sessionID string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	return storage.ValidateSessionID(sessionID)
}

// classify maps S3 API error codes onto upload error kinds.
func classify(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.NewStorageErrorWithKind(op, key, uploaderr.BackendUnavailable, err, op+" interrupted")
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchUpload":
			return storage.NewStorageErrorWithKind(op, key, uploaderr.NotFound, err, "multipart session no longer exists")
		case "NoSuchKey", "NotFound":
			return storage.NewStorageErrorWithKind(op, key, uploaderr.NotFound, err, "object not found")
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
			return storage.NewStorageErrorWithKind(op, key, uploaderr.IncompletePartSet, err, "store rejected the part list")
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return storage.NewStorageErrorWithKind(op, key, uploaderr.BackendUnavailable, err, "store refused the request")
		}
	}

	return storage.NewStorageError(op, key, err)
}

// isMissing reports whether err means the object or session is already gone.
func isMissing(err error) bool {
	var nsu *types.NoSuchUpload
	if errors.As(err, &nsu) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchUpload" || apiErr.ErrorCode() == "NoSuchKey")
}
