package chunkvault

import (
	"context"
	"sort"
	"sync"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Registry tracks the uploaders of a process by file ID, so they can be
// looked up, paused together and drained on shutdown.
//
// An uploader joins once it has been initiated and leaves when it completes
// or is cancelled. Failed uploaders stay registered so they can be retried.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Uploader
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Uploader)}
}

func (r *Registry) register(fileID string, u *Uploader) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return uploaderr.New(uploaderr.InvalidState, "upload registry is shut down")
	}
	if existing, ok := r.entries[fileID]; ok && existing != u {
		return uploaderr.Newf(uploaderr.Conflict, "upload %s is already registered", fileID)
	}
	r.entries[fileID] = u
	return nil
}

// dispose removes u if it is still the entry for fileID.
func (r *Registry) dispose(fileID string, u *Uploader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[fileID] == u {
		delete(r.entries, fileID)
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Lookup returns the uploader registered for fileID.
func (r *Registry) Lookup(fileID string) (*Uploader, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.entries[fileID]
	return u, ok
}

// Active returns the registered file IDs in ascending order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PauseAll asks every running uploader to pause.
func (r *Registry) PauseAll() {
	for _, u := range r.snapshot() {
		u.Pause()
	}
}

// Shutdown refuses new uploads, pauses the running ones and waits for their
// runs to stop. Paused uploads keep their server sessions.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	uploaders := r.snapshot()
	for _, u := range uploaders {
		u.Pause()
	}
	for _, u := range uploaders {
		if err := u.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) snapshot() []*Uploader {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Uploader, 0, len(r.entries))
	for _, u := range r.entries {
		out = append(out, u)
	}
	return out
}
