package utils

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OperationTracker counts server-side operations that must not be cut off
// halfway by shutdown, such as committing a multipart session and then
// flipping the record to completed. Once shutdown begins no new operation is
// admitted and Drain waits for the running ones.
type OperationTracker struct {
	mu           sync.Mutex
	active       map[uint64]trackedOperation
	nextID       uint64
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

type trackedOperation struct {
	FileID    string
	Op        string
	StartTime time.Time
}

// NewOperationTracker creates an empty tracker
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{active: make(map[uint64]trackedOperation)}
}

// Begin registers an operation. It returns false once shutdown has started.
// The returned func must be called exactly once when the operation ends.
func (t *OperationTracker) Begin(fileID, op string) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// checked under the lock so Drain cannot miss an Add
	if t.shuttingDown.Load() {
		return func() {}, false
	}

	t.nextID++
	id := t.nextID
	t.active[id] = trackedOperation{FileID: fileID, Op: op, StartTime: time.Now()}
	t.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.active, id)
			t.mu.Unlock()
			t.wg.Done()
		})
	}, true
}

// Active returns the number of running operations
func (t *OperationTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// IsShuttingDown reports whether Drain has been called
func (t *OperationTracker) IsShuttingDown() bool {
	return t.shuttingDown.Load()
}

// Drain stops admitting operations and waits for the running ones.
// It returns false if ctx ends first.
func (t *OperationTracker) Drain(ctx context.Context) bool {
	t.mu.Lock()
	t.shuttingDown.Store(true)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("operation tracker: all operations finished")
		return true
	case <-ctx.Done():
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, op := range t.active {
			slog.Warn("operation tracker: abandoned operation",
				"file_id", op.FileID,
				"op", op.Op,
				"duration", time.Since(op.StartTime),
			)
		}
		return false
	}
}
