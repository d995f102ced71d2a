package repository

import "context"

// Repositories holds all repository implementations.
// This struct provides a single point of access to all data access layers.
type Repositories struct {
	Uploads  UploadRepository
	Grants   GrantRepository
	Audit    AuditRepository
	Sessions SessionRepository

	DatabaseType DatabaseType

	// Ping checks the database connection for health reporting.
	Ping func(ctx context.Context) error

	// Cleanup releases the underlying connection; nil when the caller owns it.
	Cleanup func()
}

// Close runs Cleanup if set.
func (r *Repositories) Close() {
	if r != nil && r.Cleanup != nil {
		r.Cleanup()
	}
}
