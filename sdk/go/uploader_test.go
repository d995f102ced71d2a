package chunkvault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fjmerc/chunkvault/pkg/partplan"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// fakeProtocol is an in-memory upload server.
type fakeProtocol struct {
	mu sync.Mutex

	partSize int64
	urlTTL   time.Duration
	mutate   func(*InitiateResponse)

	beginErr     error
	partURLErr   func(part int) error
	completeErrs []error
	// lostCommit commits the next completion but reports it as failed.
	lostCommit bool
	statusErr  error

	initiated   []InitiateRequest
	begins      []string
	partURLs    map[int]int
	completed   [][]CompletedPart
	completions int
	directETags []string
	aborted     []string
	leases      []string
	lookups     int
}

func newFakeProtocol(partSize int64) *fakeProtocol {
	return &fakeProtocol{
		partSize: partSize,
		urlTTL:   time.Hour,
		partURLs: make(map[int]int),
	}
}

func partURLFor(part, version int) string {
	return fmt.Sprintf("part-%d-%d", part, version)
}

func (f *fakeProtocol) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, req)

	resp := &InitiateResponse{
		FileID:    "file-1",
		Key:       "uploads/owner/file-1",
		MimeType:  req.MimeType,
		Chunked:   req.Chunked,
		ExpiresAt: time.Now().Add(f.urlTTL),
	}
	if req.Chunked {
		resp.UploadID = "mpu-1"
		resp.PartSize = f.partSize
		resp.TotalParts = partplan.PartCount(req.Size, f.partSize)
		resp.PresignedURL = partURLFor(1, 0)
	} else {
		resp.PresignedURL = "direct"
	}
	if f.mutate != nil {
		f.mutate(resp)
	}
	return resp, nil
}

func (f *fakeProtocol) Begin(ctx context.Context, fileID, leaseToken string) (*BeginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins = append(f.begins, leaseToken)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &BeginResponse{FileID: fileID, Status: "uploading", LeaseToken: "lease-1"}, nil
}

func (f *fakeProtocol) PartURL(ctx context.Context, fileID, leaseToken string, partNumber int) (*PartURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases = append(f.leases, leaseToken)
	f.partURLs[partNumber]++
	if f.partURLErr != nil {
		if err := f.partURLErr(partNumber); err != nil {
			return nil, err
		}
	}
	return &PartURL{
		URL:        partURLFor(partNumber, f.partURLs[partNumber]),
		PartNumber: partNumber,
		ExpiresAt:  time.Now().Add(f.urlTTL),
	}, nil
}

func (f *fakeProtocol) nextCompleteErr() error {
	f.completions++
	if len(f.completeErrs) == 0 {
		return nil
	}
	err := f.completeErrs[0]
	f.completeErrs = f.completeErrs[1:]
	return err
}

func (f *fakeProtocol) CompleteMultipart(ctx context.Context, fileID, leaseToken, uploadID string, parts []CompletedPart) (*CompleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases = append(f.leases, leaseToken)
	if err := f.nextCompleteErr(); err != nil {
		return nil, err
	}
	if len(f.completed) > 0 {
		return nil, uploaderr.New(uploaderr.InvalidState, "upload is already completed")
	}
	f.completed = append(f.completed, append([]CompletedPart(nil), parts...))
	if f.lostCommit {
		f.lostCommit = false
		return nil, uploaderr.New(uploaderr.BackendUnavailable, "response lost")
	}
	return &CompleteResponse{FileID: fileID, ETag: `"multipart-etag"`}, nil
}

func (f *fakeProtocol) CompleteDirect(ctx context.Context, fileID, leaseToken, etag string) (*CompleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases = append(f.leases, leaseToken)
	if err := f.nextCompleteErr(); err != nil {
		return nil, err
	}
	f.directETags = append(f.directETags, etag)
	return &CompleteResponse{FileID: fileID, ETag: etag}, nil
}

func (f *fakeProtocol) Abort(ctx context.Context, fileID, leaseToken string) (*AbortResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, fileID)
	f.leases = append(f.leases, leaseToken)
	return &AbortResponse{FileID: fileID, Status: "failed"}, nil
}

func (f *fakeProtocol) UploadStatus(ctx context.Context, fileID string) (*UploadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.completed) > 0 {
		return &UploadStatus{FileID: fileID, Status: "completed", ETag: `"multipart-etag"`}, nil
	}
	return &UploadStatus{FileID: fileID, Status: "uploading"}, nil
}

// fakeTransport stores parts in memory. URLs name the part they belong to.
type fakeTransport struct {
	mu sync.Mutex

	fail   func(part, attempt int) error
	hook   func(part int)
	noETag bool

	attempts     map[int]int
	urls         map[int][]string
	data         map[int][]byte
	contentTypes []string
	inFlight     int
	maxInFlight  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attempts: make(map[int]int),
		urls:     make(map[int][]string),
		data:     make(map[int][]byte),
	}
}

func (t *fakeTransport) PutPart(ctx context.Context, url, contentType string, data []byte) (string, error) {
	part := 1
	fmt.Sscanf(url, "part-%d-", &part)

	t.mu.Lock()
	t.attempts[part]++
	attempt := t.attempts[part]
	t.urls[part] = append(t.urls[part], url)
	t.contentTypes = append(t.contentTypes, contentType)
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	fail, hook, noETag := t.fail, t.hook, t.noETag
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if hook != nil {
		hook(part)
	}
	if fail != nil {
		if err := fail(part, attempt); err != nil {
			return "", err
		}
	}

	t.mu.Lock()
	t.data[part] = append([]byte(nil), data...)
	t.mu.Unlock()
	if noETag {
		return "", nil
	}
	return fmt.Sprintf(`"etag-%d"`, part), nil
}

func (t *fakeTransport) attemptsFor(part int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[part]
}

func transient(status int) error {
	return uploaderr.Wrap(uploaderr.BackendUnavailable, "part upload rejected", &StatusError{StatusCode: status})
}

type harness struct {
	proto     *fakeProtocol
	transport *fakeTransport
	payload   []byte
	u         *Uploader

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, size, partSize int64, opts UploadOptions) *harness {
	t.Helper()

	h := &harness{
		proto:     newFakeProtocol(partSize),
		transport: newFakeTransport(),
		payload:   make([]byte, size),
	}
	for i := range h.payload {
		h.payload[i] = byte(i % 251)
	}

	opts.Transport = h.transport
	u, err := NewUploader(h.proto, NewBytesSource("data.bin", "application/octet-stream", h.payload), opts)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	u.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	h.u = u
	return h
}

// small plans 12 bytes as parts of 5, 5 and 2.
func small(t *testing.T, opts UploadOptions) *harness {
	if opts.ChunkThreshold == 0 {
		opts.ChunkThreshold = 10
	}
	return newHarness(t, 12, 5, opts)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewUploader_Validation(t *testing.T) {
	src := NewBytesSource("a.bin", "application/octet-stream", []byte("abc"))
	proto := newFakeProtocol(5)

	tests := []struct {
		name  string
		proto Protocol
		src   Source
		opts  UploadOptions
	}{
		{"nil protocol", nil, src, UploadOptions{}},
		{"nil source", proto, nil, UploadOptions{}},
		{"empty source", proto, NewBytesSource("a.bin", "text/plain", nil), UploadOptions{}},
		{"bad filename", proto, NewBytesSource("../a.bin", "text/plain", []byte("x")), UploadOptions{}},
		{"concurrency too high", proto, src, UploadOptions{Concurrency: MaxConcurrency + 1}},
		{"negative concurrency", proto, src, UploadOptions{Concurrency: -1}},
		{"negative attempts", proto, src, UploadOptions{MaxAttempts: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUploader(tt.proto, tt.src, tt.opts)
			if !uploaderr.Is(err, uploaderr.InvalidInput) {
				t.Errorf("NewUploader() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestUploader_SmallFileDirect(t *testing.T) {
	completions := 0
	h := newHarness(t, 1<<20, partplan.DefaultChunkSize, UploadOptions{
		OnComplete: func(*UploadResult) { completions++ },
	})

	result, err := h.u.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if h.proto.initiated[0].Chunked {
		t.Error("a 1 MiB upload should not ask for a chunked session")
	}
	if got := h.transport.urls[1]; len(got) != 1 || got[0] != "direct" {
		t.Errorf("puts = %v, want one direct put", got)
	}
	if len(h.proto.directETags) != 1 || h.proto.directETags[0] != `"etag-1"` {
		t.Errorf("direct completion etags = %v", h.proto.directETags)
	}
	if h.u.State() != StateCompleted || result.ETag != `"etag-1"` || result.Chunked {
		t.Errorf("state = %s, result = %+v", h.u.State(), result)
	}
	if completions != 1 {
		t.Errorf("OnComplete calls = %d, want 1", completions)
	}
	if !bytes.Equal(h.transport.data[1], h.payload) {
		t.Error("direct put did not carry the whole payload")
	}
	if h.transport.contentTypes[0] != "application/octet-stream" {
		t.Errorf("content type = %q", h.transport.contentTypes[0])
	}
}

func TestUploader_LargeFileThreeParts(t *testing.T) {
	h := newHarness(t, 12<<20, 5<<20, UploadOptions{})

	result, err := h.u.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	wantSizes := map[int]int{1: 5 << 20, 2: 5 << 20, 3: 2 << 20}
	for part, size := range wantSizes {
		if got := len(h.transport.data[part]); got != size {
			t.Errorf("part %d size = %d, want %d", part, got, size)
		}
	}
	if !bytes.Equal(bytes.Join([][]byte{h.transport.data[1], h.transport.data[2], h.transport.data[3]}, nil), h.payload) {
		t.Error("parts do not reassemble into the payload")
	}

	if len(h.proto.completed) != 1 {
		t.Fatalf("completions = %d, want 1", len(h.proto.completed))
	}
	want := []CompletedPart{{1, `"etag-1"`}, {2, `"etag-2"`}, {3, `"etag-3"`}}
	got := h.proto.completed[0]
	if len(got) != len(want) {
		t.Fatalf("completed parts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("completed[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if result.TotalParts != 3 || !result.Chunked || result.ETag != `"multipart-etag"` {
		t.Errorf("result = %+v", result)
	}
	if h.proto.begins[0] != "" {
		t.Errorf("first claim lease = %q, want empty", h.proto.begins[0])
	}
	if h.proto.partURLs[1] != 0 {
		t.Error("part 1 should use the URL from initiation")
	}
}

func TestUploader_StateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	h := small(t, UploadOptions{
		OnStateChange: func(from, to State) {
			mu.Lock()
			seen = append(seen, from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []string{"idle>initiating", "initiating>transferring", "transferring>completing", "completing>completed"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

func TestUploader_RetriesThenSucceeds(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.fail = func(part, attempt int) error {
		if part == 2 && attempt <= 2 {
			return transient(503)
		}
		return nil
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.u.State() != StateCompleted {
		t.Errorf("state = %s, want completed", h.u.State())
	}
	if got := h.u.Attempts(2); got != 3 {
		t.Errorf("Attempts(2) = %d, want 3", got)
	}
	if got := h.u.Attempts(1); got != 1 {
		t.Errorf("Attempts(1) = %d, want 1", got)
	}
	if fmt.Sprint(h.sleeps) != fmt.Sprint([]time.Duration{2 * time.Second, 4 * time.Second}) {
		t.Errorf("backoff = %v, want [2s 4s]", h.sleeps)
	}
}

func TestUploader_ExhaustedRetries(t *testing.T) {
	var errs []error
	h := small(t, UploadOptions{OnError: func(err error) { errs = append(errs, err) }})
	h.transport.fail = func(part, attempt int) error {
		if part == 2 {
			return transient(500)
		}
		return nil
	}

	_, err := h.u.Start(context.Background())
	if !uploaderr.Is(err, uploaderr.ExhaustedRetries) {
		t.Fatalf("Start() error = %v, want EXHAUSTED_RETRIES", err)
	}
	if uploaderr.IsRetryable(err) {
		t.Error("exhausted retries must not be retryable")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Errorf("last storage error should be wrapped, got %v", err)
	}
	if h.u.State() != StateFailed || h.u.Err() != err {
		t.Errorf("state = %s, Err() = %v", h.u.State(), h.u.Err())
	}
	if h.transport.attemptsFor(2) != DefaultMaxAttempts {
		t.Errorf("part 2 attempts = %d, want %d", h.transport.attemptsFor(2), DefaultMaxAttempts)
	}
	if h.transport.attemptsFor(3) != 0 {
		t.Error("no part after the exhausted one should be attempted")
	}
	if len(errs) != 1 {
		t.Errorf("OnError calls = %d, want 1", len(errs))
	}
	if len(h.proto.aborted) != 0 {
		t.Error("a failed upload keeps its session")
	}
}

func TestUploader_NonRetryableErrors(t *testing.T) {
	t.Run("forbidden part URL", func(t *testing.T) {
		h := small(t, UploadOptions{})
		h.proto.partURLErr = func(part int) error {
			if part == 2 {
				return uploaderr.New(uploaderr.Forbidden, "not your upload")
			}
			return nil
		}

		_, err := h.u.Start(context.Background())
		if uploaderr.KindOf(err) != uploaderr.Forbidden {
			t.Errorf("Start() error = %v, want FORBIDDEN", err)
		}
		if h.proto.partURLs[2] != 1 || len(h.sleeps) != 0 {
			t.Errorf("part URL calls = %d, sleeps = %v; want one call and no backoff", h.proto.partURLs[2], h.sleeps)
		}
	})

	t.Run("missing part etag", func(t *testing.T) {
		h := small(t, UploadOptions{})
		h.transport.noETag = true

		_, err := h.u.Start(context.Background())
		if uploaderr.KindOf(err) != uploaderr.ProtocolViolation {
			t.Errorf("Start() error = %v, want PROTOCOL_VIOLATION", err)
		}
		if h.transport.attemptsFor(1) != 1 {
			t.Errorf("part 1 attempts = %d, want 1", h.transport.attemptsFor(1))
		}
	})

	t.Run("lease conflict", func(t *testing.T) {
		h := small(t, UploadOptions{})
		h.proto.beginErr = uploaderr.New(uploaderr.Conflict, "upload is leased")

		_, err := h.u.Start(context.Background())
		if uploaderr.KindOf(err) != uploaderr.Conflict {
			t.Errorf("Start() error = %v, want CONFLICT", err)
		}
		if len(h.transport.attempts) != 0 {
			t.Error("no part should be sent without a lease")
		}
	})
}

func TestUploader_DirectPutToleratesMissingETag(t *testing.T) {
	h := newHarness(t, 100, 5, UploadOptions{})
	h.transport.noETag = true

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(h.proto.directETags) != 1 || h.proto.directETags[0] != "" {
		t.Errorf("direct completion etags = %q", h.proto.directETags)
	}
}

func TestUploader_PlanMismatchAborts(t *testing.T) {
	h := small(t, UploadOptions{})
	h.proto.mutate = func(resp *InitiateResponse) { resp.TotalParts = 7 }

	_, err := h.u.Start(context.Background())
	if uploaderr.KindOf(err) != uploaderr.ProtocolViolation {
		t.Fatalf("Start() error = %v, want PROTOCOL_VIOLATION", err)
	}
	if fmt.Sprint(h.proto.aborted) != "[file-1]" {
		t.Errorf("aborted = %v, want [file-1]", h.proto.aborted)
	}
}

func TestUploader_PauseAndResume(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.hook = func(part int) {
		if part == 1 {
			h.u.Pause()
		}
	}

	_, err := h.u.Start(context.Background())
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("Start() error = %v, want ErrPaused", err)
	}
	if h.u.State() != StatePaused {
		t.Fatalf("state = %s, want paused", h.u.State())
	}
	if p := h.u.Progress(); p.UploadedBytes != 5 || !p.Parts[1] || p.Parts[2] {
		t.Errorf("progress after pause = %+v", p)
	}

	h.transport.hook = nil
	if _, err := h.u.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	for part := 1; part <= 3; part++ {
		if got := h.transport.attemptsFor(part); got != 1 {
			t.Errorf("part %d sent %d times, want 1", part, got)
		}
	}
	if len(h.proto.initiated) != 1 {
		t.Errorf("initiations = %d, want 1", len(h.proto.initiated))
	}
	if fmt.Sprint(h.proto.begins) != "[ lease-1]" {
		t.Errorf("claims = %q, want the lease reused on resume", h.proto.begins)
	}
	if h.u.State() != StateCompleted {
		t.Errorf("state = %s, want completed", h.u.State())
	}
}

func TestUploader_ResumeBeforeStart(t *testing.T) {
	h := small(t, UploadOptions{})
	if _, err := h.u.Resume(context.Background()); !uploaderr.Is(err, uploaderr.InvalidState) {
		t.Errorf("Resume() error = %v, want INVALID_STATE", err)
	}
}

func TestUploader_ContextCancelPauses(t *testing.T) {
	h := small(t, UploadOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	h.transport.hook = func(part int) {
		if part == 1 {
			cancel()
		}
	}

	_, err := h.u.Start(ctx)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("Start() error = %v, want ErrPaused", err)
	}
	if h.u.State() != StatePaused {
		t.Fatalf("state = %s, want paused", h.u.State())
	}
	if len(h.proto.aborted) != 0 {
		t.Error("a paused upload keeps its session")
	}

	h.transport.hook = nil
	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if h.transport.attemptsFor(1) != 1 {
		t.Errorf("part 1 sent %d times, want 1", h.transport.attemptsFor(1))
	}
}

func TestUploader_FailedUploadRetriesRemainingParts(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.fail = func(part, attempt int) error {
		if part == 3 && attempt <= DefaultMaxAttempts {
			return transient(502)
		}
		return nil
	}

	if _, err := h.u.Start(context.Background()); !uploaderr.Is(err, uploaderr.ExhaustedRetries) {
		t.Fatalf("first Start() error = %v", err)
	}
	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if h.transport.attemptsFor(1) != 1 || h.transport.attemptsFor(2) != 1 {
		t.Error("uploaded parts must not be sent again")
	}
	if h.u.Err() != nil || h.u.State() != StateCompleted {
		t.Errorf("state = %s, Err() = %v", h.u.State(), h.u.Err())
	}
	if len(h.proto.initiated) != 1 {
		t.Errorf("initiations = %d, want 1", len(h.proto.initiated))
	}
}

func TestUploader_OnErrorOncePerFailedRun(t *testing.T) {
	var errs []error
	completions := 0
	h := small(t, UploadOptions{
		OnError:    func(err error) { errs = append(errs, err) },
		OnComplete: func(*UploadResult) { completions++ },
	})
	h.transport.fail = func(part, attempt int) error {
		if part == 3 && attempt <= 2*DefaultMaxAttempts {
			return transient(502)
		}
		return nil
	}

	for run := 1; run <= 2; run++ {
		if _, err := h.u.Start(context.Background()); !uploaderr.Is(err, uploaderr.ExhaustedRetries) {
			t.Fatalf("run %d error = %v, want EXHAUSTED_RETRIES", run, err)
		}
		if len(errs) != run {
			t.Errorf("after run %d OnError calls = %d, want %d", run, len(errs), run)
		}
	}
	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("third Start() error = %v", err)
	}
	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() on completed error = %v", err)
	}
	if len(errs) != 2 || completions != 1 {
		t.Errorf("OnError calls = %d, OnComplete calls = %d; want 2 and 1", len(errs), completions)
	}
}

func TestUploader_CancelAfterFirstPart(t *testing.T) {
	h := small(t, UploadOptions{})
	cancelErr := make(chan error, 1)
	h.transport.hook = func(part int) {
		if part != 1 {
			return
		}
		go func() { cancelErr <- h.u.Cancel(context.Background()) }()
		waitFor(t, "cancel request", func() bool {
			h.u.mu.Lock()
			defer h.u.mu.Unlock()
			return h.u.cancel
		})
	}

	_, err := h.u.Start(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start() error = %v, want ErrCancelled", err)
	}
	if err := <-cancelErr; err != nil {
		t.Errorf("Cancel() error = %v", err)
	}

	if h.u.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", h.u.State())
	}
	if h.transport.attemptsFor(2) != 0 || h.transport.attemptsFor(3) != 0 {
		t.Error("no part after the cancel should be sent")
	}
	if h.proto.partURLs[2] != 0 || h.proto.completions != 0 {
		t.Error("no part URL or completion should be requested after the cancel")
	}
	if len(h.transport.data[1]) != 5 {
		t.Error("part 1 data should be left to the server")
	}
	if fmt.Sprint(h.proto.aborted) != "[file-1]" {
		t.Errorf("aborted = %v, want [file-1]", h.proto.aborted)
	}

	if _, err := h.u.Start(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Start() after cancel error = %v, want ErrCancelled", err)
	}
	if err := h.u.Cancel(context.Background()); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestUploader_CancelPausedKeepsSession(t *testing.T) {
	h := small(t, UploadOptions{KeepSessionOnCancel: true})
	h.transport.hook = func(part int) { h.u.Pause() }

	if _, err := h.u.Start(context.Background()); !errors.Is(err, ErrPaused) {
		t.Fatalf("Start() error = %v, want ErrPaused", err)
	}
	if err := h.u.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if h.u.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", h.u.State())
	}
	if len(h.proto.aborted) != 0 {
		t.Errorf("aborted = %v, want none", h.proto.aborted)
	}
}

func TestUploader_CancelIdle(t *testing.T) {
	h := small(t, UploadOptions{})
	if err := h.u.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if h.u.State() != StateCancelled || len(h.proto.initiated) != 0 || len(h.proto.aborted) != 0 {
		t.Errorf("state = %s, initiated = %d, aborted = %d", h.u.State(), len(h.proto.initiated), len(h.proto.aborted))
	}
}

func TestUploader_CompletedIsFinal(t *testing.T) {
	h := small(t, UploadOptions{})
	first, err := h.u.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	again, err := h.u.Start(context.Background())
	if err != nil || again != first {
		t.Errorf("Start() on completed = %v, %v; want the same result", again, err)
	}
	if err := h.u.Cancel(context.Background()); !uploaderr.Is(err, uploaderr.InvalidState) {
		t.Errorf("Cancel() on completed error = %v, want INVALID_STATE", err)
	}
	if len(h.proto.completed) != 1 {
		t.Errorf("completions = %d, want 1", len(h.proto.completed))
	}
}

func TestUploader_CompletionSentOnce(t *testing.T) {
	tests := []struct {
		name       string
		lostCommit bool
		failure    error
		statusErr  error
		wantState  State
		wantKind   uploaderr.Kind
	}{
		{
			name:       "commit landed but response lost",
			lostCommit: true,
			wantState:  StateCompleted,
		},
		{
			name:      "commit did not land",
			failure:   uploaderr.New(uploaderr.BackendUnavailable, "storage down"),
			wantState: StateFailed,
			wantKind:  uploaderr.BackendUnavailable,
		},
		{
			name:      "rejected while uploading",
			failure:   uploaderr.New(uploaderr.InvalidState, "upload state changed concurrently"),
			wantState: StateFailed,
			wantKind:  uploaderr.InvalidState,
		},
		{
			name:      "status unknown",
			failure:   uploaderr.New(uploaderr.Internal, "internal error"),
			statusErr: uploaderr.New(uploaderr.BackendUnavailable, "server down"),
			wantState: StateFailed,
			wantKind:  uploaderr.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errs []error
			h := small(t, UploadOptions{OnError: func(err error) { errs = append(errs, err) }})
			h.proto.lostCommit = tt.lostCommit
			h.proto.statusErr = tt.statusErr
			if tt.failure != nil {
				h.proto.completeErrs = []error{tt.failure}
			}

			result, err := h.u.Start(context.Background())
			if h.u.State() != tt.wantState {
				t.Errorf("state = %s, want %s", h.u.State(), tt.wantState)
			}
			if h.proto.completions != 1 {
				t.Errorf("completion calls = %d, want 1", h.proto.completions)
			}
			if h.proto.lookups != 1 {
				t.Errorf("status lookups = %d, want 1", h.proto.lookups)
			}
			if tt.wantState == StateCompleted {
				if err != nil || result.ETag != `"multipart-etag"` {
					t.Errorf("Start() = %+v, %v; want the committed etag", result, err)
				}
				if len(errs) != 0 {
					t.Errorf("OnError calls = %v, want none", errs)
				}
				return
			}
			if uploaderr.KindOf(err) != tt.wantKind {
				t.Errorf("Start() error = %v, want %s", err, tt.wantKind)
			}
			if len(errs) != 1 {
				t.Errorf("OnError calls = %d, want 1", len(errs))
			}
		})
	}
}

func TestUploader_RetryAfterUnknownCompletion(t *testing.T) {
	h := small(t, UploadOptions{})
	h.proto.lostCommit = true
	h.proto.statusErr = uploaderr.New(uploaderr.BackendUnavailable, "server down")

	if _, err := h.u.Start(context.Background()); !uploaderr.IsRetryable(err) {
		t.Fatalf("first Start() error = %v, want BACKEND_UNAVAILABLE", err)
	}
	if h.u.State() != StateFailed {
		t.Fatalf("state = %s, want failed", h.u.State())
	}

	h.proto.statusErr = nil
	result, err := h.u.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if h.u.State() != StateCompleted || result.ETag != `"multipart-etag"` {
		t.Errorf("state = %s, result = %+v", h.u.State(), result)
	}
	if len(h.proto.completed) != 1 {
		t.Errorf("commits = %d, want 1", len(h.proto.completed))
	}
}

func TestUploader_CarriesLease(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.fail = func(part, attempt int) error {
		if part == 2 && attempt == 1 {
			return transient(403)
		}
		return nil
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(h.proto.leases) == 0 {
		t.Fatal("no lease-bound calls recorded")
	}
	for i, lease := range h.proto.leases {
		if lease != "lease-1" {
			t.Errorf("call %d lease = %q, want lease-1", i, lease)
		}
	}
}

func TestUploader_IncompletePartSetFails(t *testing.T) {
	h := small(t, UploadOptions{})
	h.proto.completeErrs = []error{uploaderr.New(uploaderr.IncompletePartSet, "missing part 2")}

	_, err := h.u.Start(context.Background())
	if uploaderr.KindOf(err) != uploaderr.IncompletePartSet {
		t.Errorf("Start() error = %v, want INCOMPLETE_PART_SET", err)
	}
	if h.proto.completions != 1 {
		t.Errorf("completion calls = %d, want 1", h.proto.completions)
	}
}

func TestUploader_RefreshesURLAfterForbidden(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.fail = func(part, attempt int) error {
		if part == 2 && attempt == 1 {
			return transient(403)
		}
		return nil
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.proto.partURLs[2] != 2 {
		t.Errorf("part 2 URL requests = %d, want 2", h.proto.partURLs[2])
	}
	if got := h.transport.urls[2]; len(got) != 2 || got[0] == got[1] {
		t.Errorf("part 2 URLs = %v, want a fresh URL on retry", got)
	}
}

func TestUploader_ReusesCachedURLs(t *testing.T) {
	h := small(t, UploadOptions{})
	h.transport.fail = func(part, attempt int) error {
		if part == 2 && attempt == 1 {
			return transient(503)
		}
		return nil
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.proto.partURLs[2] != 1 {
		t.Errorf("part 2 URL requests = %d, want 1", h.proto.partURLs[2])
	}
}

func TestUploader_StaleURLRefetched(t *testing.T) {
	h := small(t, UploadOptions{URLSafetyMargin: time.Minute})
	h.proto.urlTTL = 30 * time.Second

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.proto.partURLs[1] != 1 {
		t.Errorf("part 1 URL requests = %d, want 1 (initiation URL is inside the safety margin)", h.proto.partURLs[1])
	}
}

func TestUploader_ParallelProgressAndOrdering(t *testing.T) {
	var mu sync.Mutex
	var reports []Progress
	h := newHarness(t, 50, 5, UploadOptions{
		ChunkThreshold: 10,
		Concurrency:    3,
		OnProgress: func(p Progress) {
			mu.Lock()
			reports = append(reports, p)
			mu.Unlock()
		},
	})
	// Later parts finish first.
	h.transport.hook = func(part int) {
		time.Sleep(time.Duration(11-part) * time.Millisecond)
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if h.transport.maxInFlight > 3 {
		t.Errorf("max in flight = %d, want <= 3", h.transport.maxInFlight)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].UploadedBytes < reports[i-1].UploadedBytes {
			t.Fatalf("progress went backwards: %d then %d", reports[i-1].UploadedBytes, reports[i].UploadedBytes)
		}
	}
	last := reports[len(reports)-1]
	if last.UploadedBytes != 50 || last.Percentage != 100 || last.TotalParts != 10 {
		t.Errorf("final progress = %+v", last)
	}

	parts := h.proto.completed[0]
	if len(parts) != 10 || !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		t.Errorf("completed parts = %v, want 10 sorted ascending", parts)
	}
}

func TestUploader_ParallelPause(t *testing.T) {
	h := newHarness(t, 50, 5, UploadOptions{ChunkThreshold: 10, Concurrency: 2})
	paused := make(chan struct{})
	h.transport.hook = func(part int) {
		if part == 1 {
			h.u.Pause()
			close(paused)
			return
		}
		<-paused
	}

	if _, err := h.u.Start(context.Background()); !errors.Is(err, ErrPaused) {
		t.Fatalf("Start() error = %v, want ErrPaused", err)
	}
	if sent := len(h.transport.attempts); sent != 2 {
		t.Errorf("parts sent before pause = %d, want the 2 in flight", sent)
	}

	h.transport.hook = nil
	if _, err := h.u.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	for part := 1; part <= 10; part++ {
		if got := h.transport.attemptsFor(part); got != 1 {
			t.Errorf("part %d sent %d times, want 1", part, got)
		}
	}
}

func TestUploader_ResumeWhileRunning(t *testing.T) {
	h := small(t, UploadOptions{})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.transport.hook = func(part int) {
		if part == 1 {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.u.Start(context.Background())
		done <- err
	}()
	<-entered

	if result, err := h.u.Resume(context.Background()); result != nil || err != nil {
		t.Errorf("Resume() while running = %v, %v; want nil, nil", result, err)
	}
	if _, err := h.u.Start(context.Background()); !uploaderr.Is(err, uploaderr.Conflict) {
		t.Errorf("Start() while running error = %v, want CONFLICT", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	h := small(t, UploadOptions{})
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := h.u.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
	if got := h.u.backoff(62); got != DefaultMaxBackoff {
		t.Errorf("backoff(62) = %s, want cap", got)
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	h := small(t, UploadOptions{Registry: reg})
	h.transport.hook = func(part int) {
		if part != 1 {
			return
		}
		if u, ok := reg.Lookup("file-1"); !ok || u != h.u {
			t.Error("uploader should be registered while transferring")
		}
	}

	if _, err := h.u.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if active := reg.Active(); len(active) != 0 {
		t.Errorf("Active() after completion = %v, want empty", active)
	}
}

func TestRegistry_KeepsFailedUploads(t *testing.T) {
	reg := NewRegistry()
	h := small(t, UploadOptions{Registry: reg})
	h.transport.fail = func(part, attempt int) error { return transient(503) }

	if _, err := h.u.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail")
	}
	if fmt.Sprint(reg.Active()) != "[file-1]" {
		t.Errorf("Active() = %v, want [file-1]", reg.Active())
	}

	if err := h.u.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(reg.Active()) != 0 {
		t.Errorf("Active() after cancel = %v, want empty", reg.Active())
	}
}

func TestRegistry_DuplicateFileID(t *testing.T) {
	reg := NewRegistry()
	first := small(t, UploadOptions{Registry: reg})
	first.transport.fail = func(part, attempt int) error { return transient(503) }
	first.u.Start(context.Background())

	second := small(t, UploadOptions{Registry: reg})
	_, err := second.u.Start(context.Background())
	if !uploaderr.Is(err, uploaderr.Conflict) {
		t.Errorf("Start() error = %v, want CONFLICT", err)
	}
	if u, _ := reg.Lookup("file-1"); u != first.u {
		t.Error("the first uploader should stay registered")
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	reg := NewRegistry()
	h := small(t, UploadOptions{Registry: reg})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.transport.hook = func(part int) {
		if part == 1 {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.u.Start(context.Background())
		done <- err
	}()
	<-entered

	reg.PauseAll()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-done; !errors.Is(err, ErrPaused) {
		t.Errorf("Start() error = %v, want ErrPaused", err)
	}
	if h.u.State() != StatePaused {
		t.Errorf("state = %s, want paused", h.u.State())
	}

	if _, err := h.u.Resume(context.Background()); !uploaderr.Is(err, uploaderr.InvalidState) {
		t.Errorf("Resume() after shutdown error = %v, want INVALID_STATE", err)
	}
}
