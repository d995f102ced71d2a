package chunkvault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fjmerc/chunkvault/pkg/partplan"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Uploader defaults.
const (
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = time.Second
	DefaultMaxBackoff      = 30 * time.Second
	DefaultURLSafetyMargin = time.Minute
	MaxConcurrency         = 5
)

const (
	tracerName   = "github.com/fjmerc/chunkvault/sdk/go"
	urlCacheSize = 64
	abortTimeout = 30 * time.Second
)

// State is the lifecycle position of an Uploader.
type State int

const (
	StateIdle State = iota
	StateInitiating
	StateTransferring
	StatePaused
	StateCompleting
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateInitiating:   "initiating",
	StateTransferring: "transferring",
	StatePaused:       "paused",
	StateCompleting:   "completing",
	StateCompleted:    "completed",
	StateCancelled:    "cancelled",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the uploader can never run again. Failed is not
// terminal: Start retries the parts that are still missing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// UploadOptions configures an Uploader. Zero values select the defaults.
type UploadOptions struct {
	// ChunkThreshold is the size a source must exceed to be uploaded in
	// parts (default: 5 MiB).
	ChunkThreshold int64
	// Metadata is stored with the upload record.
	Metadata map[string]string
	// Concurrency is how many parts are in flight at once (default 1, at
	// most MaxConcurrency).
	Concurrency int
	// MaxAttempts is the total number of tries per part and for the
	// completion call (default 3).
	MaxAttempts int
	// BaseDelay and MaxBackoff shape the exponential backoff: the wait
	// before attempt k+1 is BaseDelay * 2^k, capped at MaxBackoff.
	BaseDelay  time.Duration
	MaxBackoff time.Duration
	// URLSafetyMargin is how long before its expiry a cached presigned URL
	// is considered stale (default 1 minute).
	URLSafetyMargin time.Duration
	// KeepSessionOnCancel leaves the record and the multipart session in
	// place on Cancel instead of aborting them.
	KeepSessionOnCancel bool
	// Transport puts part bytes. Defaults to the Client's transport.
	Transport Transport
	// Registry, when set, tracks the uploader from initiation until it
	// completes or is cancelled.
	Registry *Registry
	// Logger defaults to the Client's logger.
	Logger *slog.Logger

	OnProgress    func(Progress)
	OnStateChange func(from, to State)
	// OnComplete is called exactly once, on entry into Completed.
	OnComplete func(*UploadResult)
	// OnError is called on every entry into Failed. Failed is not final:
	// Start or Resume retries the remaining work, and a failure of that run
	// reports again.
	OnError func(error)
}

// Progress is a snapshot of an upload.
type Progress struct {
	FileID        string
	UploadedBytes int64
	TotalBytes    int64
	// Percentage is 0-100, rounded.
	Percentage  int
	Parts       map[int]bool
	CurrentPart int
	TotalParts  int
}

// UploadResult describes a completed upload.
type UploadResult struct {
	FileID     string
	Key        string
	ETag       string
	Size       int64
	Chunked    bool
	TotalParts int
}

type partState struct {
	part     partplan.Part
	uploaded bool
	etag     string
	attempts int
}

type cachedURL struct {
	url       string
	expiresAt time.Time
}

// session is the server-side identity of an upload, fixed at initiation.
type session struct {
	fileID      string
	key         string
	uploadID    string
	contentType string
	lease       string
	chunked     bool
	parts       []*partState
	directURL   cachedURL
	urls        *expirable.LRU[int, cachedURL]
}

// Uploader drives one source through initiation, part transfer and
// completion. It is safe for concurrent use; only one run is active at a
// time.
type Uploader struct {
	proto     Protocol
	transport Transport
	src       Source
	opts      UploadOptions
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time

	mu      sync.Mutex
	state   State
	sess    *session
	result  *UploadResult
	err     error
	running bool
	done    chan struct{}
	pause   bool
	cancel  bool
	current int

	progressMu   sync.Mutex
	lastReported int64
}

var (
	errPauseRequested  = errors.New("pause requested")
	errCancelRequested = errors.New("cancel requested")
)

// NewUploader prepares an upload of src over proto.
func NewUploader(proto Protocol, src Source, opts UploadOptions) (*Uploader, error) {
	if proto == nil {
		return nil, &ValidationError{Field: "protocol", Message: "is required"}
	}
	if src == nil {
		return nil, &ValidationError{Field: "source", Message: "is required"}
	}
	if src.Size() <= 0 {
		return nil, &ValidationError{Field: "source", Message: "is empty"}
	}
	if err := validateFilename(src.Name()); err != nil {
		return nil, err
	}

	switch {
	case opts.Concurrency == 0:
		opts.Concurrency = 1
	case opts.Concurrency < 0 || opts.Concurrency > MaxConcurrency:
		return nil, &ValidationError{
			Field:   "Concurrency",
			Message: fmt.Sprintf("must be between 1 and %d", MaxConcurrency),
		}
	}
	if opts.MaxAttempts < 0 {
		return nil, &ValidationError{Field: "MaxAttempts", Message: "cannot be negative"}
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.URLSafetyMargin <= 0 {
		opts.URLSafetyMargin = DefaultURLSafetyMargin
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = partplan.DefaultThreshold
	}

	client, _ := proto.(*Client)
	transport := opts.Transport
	if transport == nil {
		if client != nil {
			transport = client.transport
		} else {
			transport = NewHTTPTransport(nil)
		}
	}
	logger := opts.Logger
	if logger == nil {
		if client != nil {
			logger = client.logger
		} else {
			logger = slog.New(slog.DiscardHandler)
		}
	}

	done := make(chan struct{})
	close(done)

	return &Uploader{
		proto:     proto,
		transport: transport,
		src:       src,
		opts:      opts,
		logger:    logger,
		sleep:     sleepContext,
		now:       time.Now,
		done:      done,
	}, nil
}

// Start runs the upload until it completes, fails, pauses or is cancelled.
// On a Paused uploader it resumes; on a Failed one it retries whatever is
// still missing without re-sending uploaded parts. A Completed uploader
// returns its result again.
//
// Cancelling ctx while parts are transferring pauses the upload; the
// session stays open and Start or Resume continue it later.
func (u *Uploader) Start(ctx context.Context) (*UploadResult, error) {
	return u.launch(ctx, false)
}

// Resume continues a Paused or Failed upload from its first missing part.
// It returns immediately with a nil result when a run is already active.
func (u *Uploader) Resume(ctx context.Context) (*UploadResult, error) {
	return u.launch(ctx, true)
}

// Pause asks the active run to stop before its next part starts. Parts in
// flight finish first.
func (u *Uploader) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		u.pause = true
	}
}

// Cancel stops the upload for good. A running upload is cancelled between
// parts and Cancel waits for that. Unless KeepSessionOnCancel is set, the
// server is asked to abort the record and its multipart session.
func (u *Uploader) Cancel(ctx context.Context) error {
	u.mu.Lock()
	switch {
	case u.state == StateCancelled:
		u.mu.Unlock()
		return nil
	case u.state == StateCompleted:
		u.mu.Unlock()
		return uploaderr.New(uploaderr.InvalidState, "upload already completed")
	case u.cancel && !u.running:
		u.mu.Unlock()
		return nil
	}

	u.cancel = true
	if !u.running {
		u.mu.Unlock()
		u.finishCancel(ctx)
		return nil
	}
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if u.State() == StateCompleted {
		return uploaderr.New(uploaderr.InvalidState, "upload completed before it could be cancelled")
	}
	return nil
}

// Wait blocks until no run is active.
func (u *Uploader) Wait(ctx context.Context) error {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// FileID returns the server id of the upload, or "" before initiation.
func (u *Uploader) FileID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess == nil {
		return ""
	}
	return u.sess.fileID
}

// Err returns the error that put the uploader into Failed.
func (u *Uploader) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Attempts returns how many times a part has been tried.
func (u *Uploader) Attempts(partNumber int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess == nil || partNumber < 1 || partNumber > len(u.sess.parts) {
		return 0
	}
	return u.sess.parts[partNumber-1].attempts
}

// Progress returns a snapshot of the upload.
func (u *Uploader) Progress() Progress {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshotLocked()
}

func (u *Uploader) snapshotLocked() Progress {
	p := Progress{
		TotalBytes:  u.src.Size(),
		CurrentPart: u.current,
		Parts:       map[int]bool{},
	}
	if u.sess == nil {
		return p
	}
	p.FileID = u.sess.fileID
	p.TotalParts = len(u.sess.parts)
	for _, ps := range u.sess.parts {
		p.Parts[ps.part.Number] = ps.uploaded
		if ps.uploaded {
			p.UploadedBytes += ps.part.Size
		}
	}
	p.Percentage = int(math.Round(float64(p.UploadedBytes) * 100 / float64(p.TotalBytes)))
	return p
}

func (u *Uploader) launch(ctx context.Context, resume bool) (*UploadResult, error) {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		if resume {
			return nil, nil
		}
		return nil, uploaderr.New(uploaderr.Conflict, "upload is already running")
	}
	switch {
	case u.state == StateCompleted:
		result := u.result
		u.mu.Unlock()
		return result, nil
	case u.state == StateCancelled || u.cancel:
		u.mu.Unlock()
		return nil, ErrCancelled
	case u.state == StateIdle && resume:
		u.mu.Unlock()
		return nil, uploaderr.New(uploaderr.InvalidState, "upload has not been started")
	}
	if reg := u.opts.Registry; reg != nil && reg.isClosed() {
		u.mu.Unlock()
		return nil, uploaderr.New(uploaderr.InvalidState, "upload registry is shut down")
	}
	u.running = true
	u.pause = false
	u.done = make(chan struct{})
	u.mu.Unlock()

	result, err := u.run(ctx)

	u.mu.Lock()
	u.running = false
	close(u.done)
	u.mu.Unlock()
	return result, err
}

func (u *Uploader) run(ctx context.Context) (*UploadResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chunkvault.upload", trace.WithAttributes(
		attribute.String("upload.name", u.src.Name()),
		attribute.Int64("upload.size", u.src.Size()),
		attribute.Int("upload.concurrency", u.opts.Concurrency),
	))
	defer span.End()

	result, err := u.drive(ctx)

	span.SetAttributes(attribute.String("upload.state", u.State().String()))
	if fid := u.FileID(); fid != "" {
		span.SetAttributes(attribute.String("upload.file_id", fid))
	}
	if err != nil && !errors.Is(err, ErrPaused) && !errors.Is(err, ErrCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (u *Uploader) drive(ctx context.Context) (*UploadResult, error) {
	u.mu.Lock()
	sess := u.sess
	u.mu.Unlock()

	if sess == nil {
		u.setState(StateInitiating)
		s, err := u.initiate(ctx)
		if err != nil {
			return nil, u.fail(err)
		}
		sess = s

		u.mu.Lock()
		u.sess = s
		u.mu.Unlock()

		if reg := u.opts.Registry; reg != nil {
			if err := reg.register(s.fileID, u); err != nil {
				return u.halt(ctx, err)
			}
		}
	}

	if err := u.checkpoint(ctx); err != nil {
		return u.halt(ctx, err)
	}
	if err := u.claim(ctx, sess); err != nil {
		return u.halt(ctx, err)
	}

	u.setState(StateTransferring)
	var err error
	if u.opts.Concurrency > 1 && sess.chunked {
		err = u.transferParallel(ctx, sess)
	} else {
		err = u.transferSequential(ctx, sess)
	}
	if err != nil {
		return u.halt(ctx, err)
	}

	u.mu.Lock()
	cancelled := u.cancel
	u.mu.Unlock()
	if cancelled {
		return u.halt(ctx, errCancelRequested)
	}

	u.setState(StateCompleting)
	result, err := u.complete(ctx, sess)
	if err != nil {
		return u.halt(ctx, err)
	}
	return u.succeed(result), nil
}

// initiate opens the record and plans the parts from the server's answer.
func (u *Uploader) initiate(ctx context.Context) (*session, error) {
	size := u.src.Size()
	resp, err := u.proto.Initiate(ctx, InitiateRequest{
		OriginalName: u.src.Name(),
		MimeType:     u.src.ContentType(),
		Size:         size,
		Chunked:      partplan.ChunkEligible(size, u.opts.ChunkThreshold),
		Metadata:     u.opts.Metadata,
	})
	if err != nil {
		return nil, err
	}

	s := &session{
		fileID:      resp.FileID,
		key:         resp.Key,
		uploadID:    resp.UploadID,
		contentType: resp.MimeType,
		chunked:     resp.Chunked,
	}
	if s.contentType == "" {
		s.contentType = u.src.ContentType()
	}

	plan, err := u.planFor(resp)
	if err != nil {
		u.abandon(ctx, s.fileID, "")
		return nil, err
	}
	s.parts = make([]*partState, len(plan))
	for i, p := range plan {
		s.parts[i] = &partState{part: p}
	}

	if s.chunked {
		lifetime := resp.ExpiresAt.Sub(u.now())
		if lifetime <= 0 {
			lifetime = time.Minute
		}
		s.urls = expirable.NewLRU[int, cachedURL](urlCacheSize, nil, lifetime)
		s.urls.Add(1, cachedURL{url: resp.PresignedURL, expiresAt: resp.ExpiresAt})
	} else {
		s.directURL = cachedURL{url: resp.PresignedURL, expiresAt: resp.ExpiresAt}
	}

	u.logger.Info("upload initiated",
		"file_id", s.fileID,
		"chunked", s.chunked,
		"parts", len(s.parts),
	)
	return s, nil
}

func (u *Uploader) planFor(resp *InitiateResponse) ([]partplan.Part, error) {
	size := u.src.Size()
	if !resp.Chunked {
		return []partplan.Part{{Number: 1, Offset: 0, Size: size}}, nil
	}
	if resp.UploadID == "" || resp.PartSize <= 0 {
		return nil, uploaderr.New(uploaderr.ProtocolViolation, "chunked initiation without a multipart session")
	}
	plan, err := partplan.Plan(size, resp.PartSize)
	if err != nil {
		return nil, err
	}
	if len(plan) != resp.TotalParts {
		return nil, uploaderr.Newf(uploaderr.ProtocolViolation,
			"server planned %d parts, expected %d", resp.TotalParts, len(plan))
	}
	return plan, nil
}

// claim moves the record to uploading under this uploader's lease, or
// confirms the lease it already holds.
func (u *Uploader) claim(ctx context.Context, s *session) error {
	resp, err := u.proto.Begin(ctx, s.fileID, s.lease)
	if err != nil {
		return err
	}
	u.mu.Lock()
	s.lease = resp.LeaseToken
	u.mu.Unlock()
	return nil
}

// pendingParts returns the parts not yet uploaded, ascending.
func (u *Uploader) pendingParts(s *session) []*partState {
	u.mu.Lock()
	defer u.mu.Unlock()
	var pending []*partState
	for _, ps := range s.parts {
		if !ps.uploaded {
			pending = append(pending, ps)
		}
	}
	return pending
}

func (u *Uploader) transferSequential(ctx context.Context, s *session) error {
	for _, ps := range u.pendingParts(s) {
		if err := u.checkpoint(ctx); err != nil {
			return err
		}
		if err := u.uploadPart(ctx, s, ps); err != nil {
			return err
		}
	}
	return nil
}

// transferParallel keeps up to Concurrency parts in flight. Pause and cancel
// stop dispatching; parts already dispatched run to completion.
func (u *Uploader) transferParallel(ctx context.Context, s *session) error {
	sem := semaphore.NewWeighted(int64(u.opts.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var stopErr error
	for _, ps := range u.pendingParts(s) {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		if err := u.checkpoint(gctx); err != nil {
			sem.Release(1)
			stopErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return u.uploadPart(gctx, s, ps)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if stopErr != nil {
		return stopErr
	}
	return ctx.Err()
}

// uploadPart sends one part, retrying transient failures with backoff.
func (u *Uploader) uploadPart(ctx context.Context, s *session, ps *partState) error {
	n := ps.part.Number
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chunkvault.part", trace.WithAttributes(
		attribute.String("upload.file_id", s.fileID),
		attribute.Int("part.number", n),
		attribute.Int64("part.size", ps.part.Size),
	))
	defer span.End()

	u.mu.Lock()
	u.current = n
	u.mu.Unlock()

	data := make([]byte, ps.part.Size)
	if read, err := u.src.ReadAt(data, ps.part.Offset); read < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return uploaderr.Wrap(uploaderr.InvalidInput, fmt.Sprintf("reading part %d", n), err)
	}

	err := u.retry(ctx, func(ctx context.Context) error {
		u.mu.Lock()
		ps.attempts++
		u.mu.Unlock()

		etag, err := u.putPart(ctx, s, n, data)
		if err != nil {
			u.logger.Debug("part attempt failed", "file_id", s.fileID, "part", n, "error", err)
			return err
		}

		u.mu.Lock()
		ps.uploaded = true
		ps.etag = etag
		u.mu.Unlock()
		return nil
	})

	span.SetAttributes(attribute.Int("part.attempts", u.Attempts(n)))
	if err != nil {
		if !isContextErr(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if uploaderr.Is(err, uploaderr.ExhaustedRetries) {
			return uploaderr.Wrap(uploaderr.ExhaustedRetries, fmt.Sprintf("part %d failed after %d attempts", n, u.opts.MaxAttempts), errors.Unwrap(err))
		}
		return err
	}

	u.reportProgress()
	return nil
}

func (u *Uploader) putPart(ctx context.Context, s *session, n int, data []byte) (string, error) {
	url, err := u.presignedURL(ctx, s, n)
	if err != nil {
		return "", err
	}

	etag, err := u.transport.PutPart(ctx, url, s.contentType, data)
	if err != nil {
		var se *StatusError
		if s.chunked && errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
			// Expired or revoked signature: fetch a new URL next attempt.
			s.urls.Remove(n)
		}
		return "", err
	}
	if etag == "" && s.chunked {
		return "", uploaderr.Newf(uploaderr.ProtocolViolation, "storage returned no ETag for part %d", n)
	}
	return etag, nil
}

func (u *Uploader) presignedURL(ctx context.Context, s *session, n int) (string, error) {
	if !s.chunked {
		if u.now().After(s.directURL.expiresAt) {
			return "", uploaderr.New(uploaderr.InvalidState, "direct upload URL expired; start a new upload")
		}
		return s.directURL.url, nil
	}

	if cached, ok := s.urls.Get(n); ok && u.now().Add(u.opts.URLSafetyMargin).Before(cached.expiresAt) {
		return cached.url, nil
	}
	pu, err := u.proto.PartURL(ctx, s.fileID, s.lease, n)
	if err != nil {
		return "", err
	}
	s.urls.Add(n, cachedURL{url: pu.URL, expiresAt: pu.ExpiresAt})
	return pu.URL, nil
}

// complete commits the part list, sorted ascending, or the direct upload.
// The commit is not idempotent, so it is sent once. When the outcome is
// unknown the record status decides it.
func (u *Uploader) complete(ctx context.Context, s *session) (*UploadResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chunkvault.complete", trace.WithAttributes(
		attribute.String("upload.file_id", s.fileID),
		attribute.Bool("upload.chunked", s.chunked),
	))
	defer span.End()

	u.mu.Lock()
	parts := make([]CompletedPart, 0, len(s.parts))
	for _, ps := range s.parts {
		parts = append(parts, CompletedPart{PartNumber: ps.part.Number, ETag: ps.etag})
	}
	u.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	var (
		resp *CompleteResponse
		err  error
	)
	if s.chunked {
		resp, err = u.proto.CompleteMultipart(ctx, s.fileID, s.lease, s.uploadID, parts)
	} else {
		resp, err = u.proto.CompleteDirect(ctx, s.fileID, s.lease, parts[0].ETag)
	}
	if err != nil && outcomeUnknown(err) {
		resp, err = u.settleCompletion(ctx, s, err)
	}
	if err != nil {
		if !isContextErr(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	return &UploadResult{
		FileID:     s.fileID,
		Key:        s.key,
		ETag:       resp.ETag,
		Size:       u.src.Size(),
		Chunked:    s.chunked,
		TotalParts: len(s.parts),
	}, nil
}

// outcomeUnknown reports whether a failed completion may still have been
// committed: the response was lost, the server failed after storage merged
// the parts, or an earlier run's commit landed before this retry.
func outcomeUnknown(err error) bool {
	switch uploaderr.KindOf(err) {
	case uploaderr.BackendUnavailable, uploaderr.Internal, uploaderr.InvalidState:
		return true
	}
	return false
}

// settleCompletion looks up the record after a completion that failed in
// transit. A completed record means the commit landed before the failure.
func (u *Uploader) settleCompletion(ctx context.Context, s *session, cause error) (*CompleteResponse, error) {
	sr, ok := u.proto.(statusReader)
	if !ok {
		return nil, cause
	}
	st, err := sr.UploadStatus(ctx, s.fileID)
	if err != nil {
		u.logger.Warn("completion outcome unknown", "file_id", s.fileID, "error", err)
		return nil, cause
	}
	if st.Status != "completed" {
		return nil, cause
	}
	u.logger.Info("completion confirmed after lost response", "file_id", s.fileID)
	return &CompleteResponse{FileID: s.fileID, ETag: st.ETag}, nil
}

// retry runs fn up to MaxAttempts times. Only BackendUnavailable failures
// are retried; exhausting the attempts yields ExhaustedRetries wrapping the
// last failure.
func (u *Uploader) retry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= u.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := u.sleep(ctx, u.backoff(attempt-1)); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !uploaderr.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return uploaderr.Wrap(uploaderr.ExhaustedRetries,
		fmt.Sprintf("failed after %d attempts", u.opts.MaxAttempts), lastErr)
}

// backoff returns the wait before attempt k+1: BaseDelay * 2^k, capped.
func (u *Uploader) backoff(k int) time.Duration {
	if k >= 30 {
		return u.opts.MaxBackoff
	}
	d := u.opts.BaseDelay << uint(k)
	if d <= 0 || d > u.opts.MaxBackoff {
		return u.opts.MaxBackoff
	}
	return d
}

func (u *Uploader) checkpoint(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.cancel:
		return errCancelRequested
	case u.pause:
		return errPauseRequested
	}
	return ctx.Err()
}

// halt ends a run that stopped before completion.
func (u *Uploader) halt(ctx context.Context, err error) (*UploadResult, error) {
	switch {
	case errors.Is(err, errCancelRequested):
		return nil, u.finishCancel(ctx)
	case errors.Is(err, errPauseRequested), isContextErr(err) && ctx.Err() != nil:
		u.setState(StatePaused)
		u.logger.Info("upload paused", "file_id", u.FileID(), "uploaded_bytes", u.Progress().UploadedBytes)
		return nil, ErrPaused
	default:
		return nil, u.fail(err)
	}
}

func (u *Uploader) fail(err error) error {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()

	u.logger.Warn("upload failed", "file_id", u.FileID(), "error", err)
	u.setState(StateFailed)
	if u.opts.OnError != nil {
		u.opts.OnError(err)
	}
	return err
}

func (u *Uploader) succeed(result *UploadResult) *UploadResult {
	u.mu.Lock()
	u.result = result
	u.err = nil
	u.mu.Unlock()

	u.logger.Info("upload completed", "file_id", result.FileID, "size", result.Size, "parts", result.TotalParts)
	u.setState(StateCompleted)
	if reg := u.opts.Registry; reg != nil {
		reg.dispose(result.FileID, u)
	}
	if u.opts.OnComplete != nil {
		u.opts.OnComplete(result)
	}
	return result
}

func (u *Uploader) finishCancel(ctx context.Context) error {
	u.mu.Lock()
	s := u.sess
	u.mu.Unlock()

	u.setState(StateCancelled)
	if s == nil {
		return ErrCancelled
	}

	if !u.opts.KeepSessionOnCancel {
		u.mu.Lock()
		lease := s.lease
		u.mu.Unlock()
		u.abandon(ctx, s.fileID, lease)
	}
	if reg := u.opts.Registry; reg != nil {
		reg.dispose(s.fileID, u)
	}
	u.logger.Info("upload cancelled", "file_id", s.fileID)
	return ErrCancelled
}

// abandon asks the server to abort fileID. It runs even when ctx is done.
func (u *Uploader) abandon(ctx context.Context, fileID, lease string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if _, err := u.proto.Abort(actx, fileID, lease); err != nil {
		u.logger.Warn("failed to abort upload", "file_id", fileID, "error", err)
	}
}

func (u *Uploader) setState(to State) {
	u.mu.Lock()
	from := u.state
	u.state = to
	u.mu.Unlock()

	if from != to && u.opts.OnStateChange != nil {
		u.opts.OnStateChange(from, to)
	}
}

// reportProgress emits a snapshot when the uploaded byte count grew.
// Snapshots are taken and delivered under progressMu, so observers never
// see the count go down.
func (u *Uploader) reportProgress() {
	u.progressMu.Lock()
	defer u.progressMu.Unlock()

	p := u.Progress()
	if p.UploadedBytes <= u.lastReported {
		return
	}
	u.lastReported = p.UploadedBytes
	if u.opts.OnProgress != nil {
		u.opts.OnProgress(p)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
