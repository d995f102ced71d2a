package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// GrantRepository is an in-memory repository.GrantRepository.
type GrantRepository struct {
	mu     sync.RWMutex
	grants []models.FileGrant

	CreateError error
	CheckError  error
}

var _ repository.GrantRepository = (*GrantRepository)(nil)

// NewGrantRepository creates an empty GrantRepository.
func NewGrantRepository() *GrantRepository {
	return &GrantRepository{}
}

func (r *GrantRepository) Create(ctx context.Context, grant *models.FileGrant) error {
	if r.CreateError != nil {
		return r.CreateError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now()
	}
	for i, g := range r.grants {
		if g.FileID == grant.FileID && g.UserID == grant.UserID && g.Action == grant.Action {
			r.grants[i] = *grant
			return nil
		}
	}
	r.grants = append(r.grants, *grant)
	return nil
}

func (r *GrantRepository) HasActiveGrant(ctx context.Context, fileID, userID string, action models.GrantAction, now time.Time) (bool, error) {
	if r.CheckError != nil {
		return false, r.CheckError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.grants {
		g := &r.grants[i]
		if g.FileID == fileID && g.UserID == userID && g.Action == action && g.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *GrantRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.FileGrant{}
	for _, g := range r.grants {
		if g.FileID == fileID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *GrantRepository) Revoke(ctx context.Context, fileID, userID string, action models.GrantAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, g := range r.grants {
		if g.FileID == fileID && g.UserID == userID && g.Action == action {
			r.grants = append(r.grants[:i], r.grants[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *GrantRepository) DeleteByFile(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.grants[:0]
	for _, g := range r.grants {
		if g.FileID != fileID {
			kept = append(kept, g)
		}
	}
	r.grants = kept
	return nil
}

// AuditRepository is an in-memory repository.AuditRepository.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []models.AuditEntry

	LogError error
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

// NewAuditRepository creates an empty AuditRepository.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Log(ctx context.Context, entry *models.AuditEntry) error {
	if r.LogError != nil {
		return r.LogError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *AuditRepository) ListByFile(ctx context.Context, fileID string, limit int) ([]models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.AuditEntry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].FileID == fileID {
			out = append(out, r.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Actions returns the logged actions for a file in insertion order.
func (r *AuditRepository) Actions(fileID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var actions []string
	for _, e := range r.entries {
		if e.FileID == fileID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

type session struct {
	userID    string
	expiresAt time.Time
}

// SessionRepository is an in-memory repository.SessionRepository.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]session

	GetError error
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]session)}
}

func (r *SessionRepository) Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[tokenHash]; exists {
		return repository.ErrDuplicateKey
	}
	r.sessions[tokenHash] = session{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *SessionRepository) GetUserID(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	if r.GetError != nil {
		return "", r.GetError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[tokenHash]
	if !ok || !s.expiresAt.After(now) {
		return "", repository.ErrNotFound
	}
	return s.userID, nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, s := range r.sessions {
		if !s.expiresAt.After(now) {
			delete(r.sessions, hash)
			n++
		}
	}
	return n, nil
}

// NewRepositories wires fresh in-memory repositories into a Repositories set.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Uploads:      NewUploadRepository(),
		Grants:       NewGrantRepository(),
		Audit:        NewAuditRepository(),
		Sessions:     NewSessionRepository(),
		DatabaseType: "memory",
		Ping:         func(context.Context) error { return nil },
	}
}
