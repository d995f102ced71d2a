// Package mock provides an in-memory storage.Gateway for testing.
// It also serves its own presigned URLs over HTTP, so clients can PUT parts
// and objects against an httptest server exactly as they would against S3.
package mock

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// DefaultBaseURL is used for presigned URLs until SetBaseURL is called.
const DefaultBaseURL = "http://storage.mock"

type session struct {
	key      string
	mimeType string
	metadata map[string]string
	parts    map[int][]byte
}

// Gateway is an in-memory implementation of storage.Gateway for testing.
type Gateway struct {
	mu sync.RWMutex

	baseURL  string
	now      func() time.Time
	nextID   int
	sessions map[string]*session // sessionID -> session
	objects  map[string][]byte   // key -> content
	types    map[string]string   // key -> content type

	// Recorded calls
	AbortedSessions []string
	Completions     [][]storage.CompletedPart
	DeletedKeys     []string

	// Error injection for testing
	CreateError   error
	PresignError  error
	CompleteError error
	AbortError    error
	ListError     error
	DeleteError   error
	HealthError   error

	// OnPartPut runs before a part PUT is stored. A non-zero status is
	// returned to the client instead of storing the part; omitETag stores
	// the part but drops the ETag header.
	OnPartPut func(sessionID string, partNumber int) (status int, omitETag bool)
}

var (
	_ storage.Gateway      = (*Gateway)(nil)
	_ storage.ObjectWriter = (*Gateway)(nil)
	_ http.Handler         = (*Gateway)(nil)
)

// NewGateway creates an empty mock Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		baseURL:  DefaultBaseURL,
		now:      time.Now,
		sessions: make(map[string]*session),
		objects:  make(map[string][]byte),
		types:    make(map[string]string),
	}
}

// SetBaseURL sets the host presigned URLs point at, usually an httptest server wrapping g.
func (g *Gateway) SetBaseURL(baseURL string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseURL = strings.TrimRight(baseURL, "/")
}

// SetClock replaces the clock used for URL expiry.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Reset clears all state and injected errors.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sessions = make(map[string]*session)
	g.objects = make(map[string][]byte)
	g.types = make(map[string]string)
	g.AbortedSessions = nil
	g.Completions = nil
	g.DeletedKeys = nil

	g.CreateError = nil
	g.PresignError = nil
	g.CompleteError = nil
	g.AbortError = nil
	g.ListError = nil
	g.DeleteError = nil
	g.HealthError = nil
	g.OnPartPut = nil
}

// CreateMultipartSession opens a session.
func (g *Gateway) CreateMultipartSession(ctx context.Context, key, mimeType string, metadata map[string]string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", storage.NewStorageErrorWithKind("CreateMultipartSession", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CreateError != nil {
		return "", storage.NewStorageError("CreateMultipartSession", key, g.CreateError)
	}

	g.nextID++
	id := fmt.Sprintf("mpu-%04d", g.nextID)
	g.sessions[id] = &session{
		key:      key,
		mimeType: mimeType,
		metadata: metadata,
		parts:    make(map[int][]byte),
	}
	return id, nil
}

// PresignPartUpload returns a URL served by ServeHTTP.
func (g *Gateway) PresignPartUpload(ctx context.Context, key, sessionID string, partNumber int, expiry time.Duration) (string, error) {
	if err := storage.ValidatePartNumber(partNumber); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignPartUpload", key, uploaderr.InvalidInput, err, err.Error())
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.PresignError != nil {
		return "", storage.NewStorageError("PresignPartUpload", key, g.PresignError)
	}
	if _, ok := g.sessions[sessionID]; !ok {
		return "", storage.NewStorageErrorWithKind("PresignPartUpload", key, uploaderr.NotFound,
			errors.New("NoSuchUpload"), "multipart session no longer exists")
	}

	return fmt.Sprintf("%s/parts/%s/%d?expires=%d", g.baseURL, url.PathEscape(sessionID), partNumber,
		g.now().Add(expiry).Unix()), nil
}

// PresignDirectUpload returns a URL served by ServeHTTP.
func (g *Gateway) PresignDirectUpload(ctx context.Context, key, mimeType string, expiry time.Duration) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", storage.NewStorageErrorWithKind("PresignDirectUpload", key, uploaderr.InvalidInput, err, "invalid object key")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.PresignError != nil {
		return "", storage.NewStorageError("PresignDirectUpload", key, g.PresignError)
	}
	return fmt.Sprintf("%s/objects/%s?expires=%d", g.baseURL, key, g.now().Add(expiry).Unix()), nil
}

// CompleteMultipartSession concatenates the listed parts into one object.
func (g *Gateway) CompleteMultipartSession(ctx context.Context, key, sessionID string, parts []storage.CompletedPart) (*storage.CompletedObject, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sorted := make([]storage.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	g.Completions = append(g.Completions, sorted)

	if g.CompleteError != nil {
		return nil, g.CompleteError
	}

	s, ok := g.sessions[sessionID]
	if !ok || s.key != key {
		return nil, storage.NewStorageErrorWithKind("CompleteMultipartSession", key, uploaderr.NotFound,
			errors.New("NoSuchUpload"), "multipart session no longer exists")
	}
	if len(sorted) == 0 {
		return nil, storage.NewStorageErrorWithKind("CompleteMultipartSession", key, uploaderr.IncompletePartSet,
			errors.New("no parts"), "no parts to complete")
	}

	var buf bytes.Buffer
	for _, p := range sorted {
		data, ok := s.parts[p.PartNumber]
		if !ok || etagOf(data) != p.ETag {
			return nil, storage.NewStorageErrorWithKind("CompleteMultipartSession", key, uploaderr.IncompletePartSet,
				errors.New("InvalidPart"), fmt.Sprintf("part %d is missing or its etag does not match", p.PartNumber))
		}
		buf.Write(data)
	}

	g.objects[key] = buf.Bytes()
	g.types[key] = s.mimeType
	delete(g.sessions, sessionID)

	return &storage.CompletedObject{ETag: fmt.Sprintf(`"%s-%d"`, strings.Trim(etagOf(buf.Bytes()), `"`), len(sorted))}, nil
}

// AbortMultipartSession drops a session and its parts.
func (g *Gateway) AbortMultipartSession(ctx context.Context, key, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.AbortedSessions = append(g.AbortedSessions, sessionID)
	if g.AbortError != nil {
		return storage.NewStorageError("AbortMultipartSession", key, g.AbortError)
	}
	delete(g.sessions, sessionID)
	return nil
}

// ListUploadedParts returns the stored parts of a session.
func (g *Gateway) ListUploadedParts(ctx context.Context, key, sessionID string) ([]storage.UploadedPart, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.ListError != nil {
		return nil, storage.NewStorageError("ListUploadedParts", key, g.ListError)
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, storage.NewStorageErrorWithKind("ListUploadedParts", key, uploaderr.NotFound,
			errors.New("NoSuchUpload"), "multipart session no longer exists")
	}

	parts := make([]storage.UploadedPart, 0, len(s.parts))
	for n, data := range s.parts {
		parts = append(parts, storage.UploadedPart{PartNumber: n, ETag: etagOf(data), Size: int64(len(data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// PresignDownload returns a GET URL served by ServeHTTP.
func (g *Gateway) PresignDownload(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.PresignError != nil {
		return "", storage.NewStorageError("PresignDownload", key, g.PresignError)
	}
	return fmt.Sprintf("%s/objects/%s?expires=%d&filename=%s", g.baseURL, key, g.now().Add(expiry).Unix(),
		url.QueryEscape(filename)), nil
}

// DeleteObject removes an object.
func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.DeleteError != nil {
		return storage.NewStorageError("DeleteObject", key, g.DeleteError)
	}
	g.DeletedKeys = append(g.DeletedKeys, key)
	delete(g.objects, key)
	delete(g.types, key)
	return nil
}

// PutObject stores an object directly.
func (g *Gateway) PutObject(ctx context.Context, key, mimeType string, body io.Reader) (*storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, storage.NewStorageError("PutObject", key, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.objects[key] = data
	g.types[key] = mimeType
	return &storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: etagOf(data), ContentType: mimeType}, nil
}

// HealthCheck returns the injected health error, if any.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.HealthError
}

// Object returns a stored object's content.
func (g *Gateway) Object(key string) ([]byte, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	data, ok := g.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// AddObject stores an object as if it had been uploaded.
func (g *Gateway) AddObject(key string, content []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key] = content
}

// SessionOpen reports whether a multipart session still exists.
func (g *Gateway) SessionOpen(sessionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.sessions[sessionID]
	return ok
}

// PartCount returns how many parts a session holds.
func (g *Gateway) PartCount(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.sessions[sessionID]; ok {
		return len(s.parts)
	}
	return 0
}

// ServeHTTP accepts PUTs to presigned part and object URLs and GETs to download URLs.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if exp, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64); err != nil || g.clock().Unix() > exp {
		http.Error(w, "Request has expired", http.StatusForbidden)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/parts/") && r.Method == http.MethodPut:
		g.servePart(w, r)
	case strings.HasPrefix(r.URL.Path, "/objects/") && r.Method == http.MethodPut:
		g.serveObjectPut(w, r)
	case strings.HasPrefix(r.URL.Path, "/objects/") && r.Method == http.MethodGet:
		g.serveObjectGet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) servePart(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/parts/"), "/")
	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}
	sessionID := segments[0]
	partNumber, err := strconv.Atoi(segments[1])
	if err != nil {
		http.Error(w, "bad part number", http.StatusBadRequest)
		return
	}

	g.mu.RLock()
	hook := g.OnPartPut
	g.mu.RUnlock()

	omitETag := false
	if hook != nil {
		var status int
		status, omitETag = hook(sessionID, partNumber)
		if status != 0 {
			io.Copy(io.Discard, r.Body)
			http.Error(w, http.StatusText(status), status)
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if r.ContentLength >= 0 && int64(len(data)) != r.ContentLength {
		http.Error(w, "content length mismatch", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	s, ok := g.sessions[sessionID]
	if ok {
		s.parts[partNumber] = data
	}
	g.mu.Unlock()

	if !ok {
		http.Error(w, "NoSuchUpload", http.StatusNotFound)
		return
	}
	if !omitETag {
		w.Header().Set("ETag", etagOf(data))
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) serveObjectPut(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/objects/")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.objects[key] = data
	g.types[key] = r.Header.Get("Content-Type")
	g.mu.Unlock()

	w.Header().Set("ETag", etagOf(data))
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) serveObjectGet(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/objects/")
	data, ok := g.Object(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (g *Gateway) clock() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.now()
}

// etagOf mimics S3's quoted MD5 content tag.
func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
