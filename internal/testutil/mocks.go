package testutil

import (
	"database/sql"
	"testing"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	repoMock "github.com/fjmerc/chunkvault/internal/repository/mock"
	"github.com/fjmerc/chunkvault/internal/repository/sqlite"
	"github.com/fjmerc/chunkvault/internal/storage"
	storageMock "github.com/fjmerc/chunkvault/internal/storage/mock"
)

// MockRepositories exposes the concrete in-memory repositories so tests can
// inject errors and hooks.
type MockRepositories struct {
	Uploads  *repoMock.UploadRepository
	Grants   *repoMock.GrantRepository
	Audit    *repoMock.AuditRepository
	Sessions *repoMock.SessionRepository
}

// Set returns the repositories as the interface bundle the service consumes.
func (m *MockRepositories) Set() *repository.Repositories {
	return &repository.Repositories{
		Uploads:      m.Uploads,
		Grants:       m.Grants,
		Audit:        m.Audit,
		Sessions:     m.Sessions,
		DatabaseType: "memory",
	}
}

// NewMockRepositories creates a fresh set of in-memory repositories.
func NewMockRepositories() *MockRepositories {
	return &MockRepositories{
		Uploads:  repoMock.NewUploadRepository(),
		Grants:   repoMock.NewGrantRepository(),
		Audit:    repoMock.NewAuditRepository(),
		Sessions: repoMock.NewSessionRepository(),
	}
}

// MockTestEnv bundles configuration, in-memory repositories and the
// in-memory storage gateway.
type MockTestEnv struct {
	Config  *config.Config
	Mocks   *MockRepositories
	Repos   *repository.Repositories
	Storage *storageMock.Gateway
}

// NewMockTestEnv creates an environment that needs no database.
func NewMockTestEnv(t testing.TB) *MockTestEnv {
	t.Helper()

	mocks := NewMockRepositories()
	return &MockTestEnv{
		Config:  SetupTestConfig(t),
		Mocks:   mocks,
		Repos:   mocks.Set(),
		Storage: storageMock.NewGateway(),
	}
}

// SQLiteTestEnv is like MockTestEnv but keeps records in an in-memory
// SQLite database, so conditional updates run real SQL.
type SQLiteTestEnv struct {
	Config  *config.Config
	DB      *sql.DB
	Repos   *repository.Repositories
	Storage *storageMock.Gateway
}

// NewSQLiteTestEnv creates an environment backed by SetupTestDB.
func NewSQLiteTestEnv(t testing.TB) *SQLiteTestEnv {
	t.Helper()

	db := SetupTestDB(t)
	repos, err := sqlite.NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	return &SQLiteTestEnv{
		Config:  SetupTestConfig(t),
		DB:      db,
		Repos:   repos,
		Storage: storageMock.NewGateway(),
	}
}

// SetupRecord stores rec in the mock repository and returns it.
func SetupRecord(t testing.TB, uploads *repoMock.UploadRepository, rec *models.UploadRecord) *models.UploadRecord {
	t.Helper()

	uploads.AddRecord(rec)
	return rec
}

// MockGateway is an alias to storageMock.Gateway for convenience.
type MockGateway = storageMock.Gateway

// Verify interface implementations at compile time
var (
	_ repository.UploadRepository  = (*repoMock.UploadRepository)(nil)
	_ repository.GrantRepository   = (*repoMock.GrantRepository)(nil)
	_ repository.AuditRepository   = (*repoMock.AuditRepository)(nil)
	_ repository.SessionRepository = (*repoMock.SessionRepository)(nil)
	_ storage.Gateway              = (*storageMock.Gateway)(nil)
)
