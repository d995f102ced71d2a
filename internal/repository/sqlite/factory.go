package sqlite

import (
	"database/sql"

	"github.com/fjmerc/chunkvault/internal/repository"
)

// NewRepositories creates all SQLite repository implementations over an
// open, migrated database. Cleanup closes the database.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Uploads:      NewUploadRepository(db),
		Grants:       NewGrantRepository(db),
		Audit:        NewAuditRepository(db),
		Sessions:     NewSessionRepository(db),
		DatabaseType: repository.DatabaseTypeSQLite,
		Ping:         db.PingContext,
		Cleanup: func() {
			db.Close()
		},
	}, nil
}
