package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/repository"
)

func TestBuildConnectionString(t *testing.T) {
	tests := []struct {
		name            string
		cfg             config.PostgresConfig
		expectedParts   []string
		unexpectedParts []string
	}{
		{
			name: "basic configuration",
			cfg: config.PostgresConfig{
				Host: "localhost", Port: 5432, User: "testuser", Password: "testpass",
				Database: "testdb", SSLMode: "disable",
			},
			expectedParts: []string{"postgres://", "testuser:testpass@", "localhost:5432", "/testdb", "sslmode=disable"},
		},
		{
			name: "default SSL mode",
			cfg: config.PostgresConfig{
				Host: "db", Port: 5432, User: "u", Password: "p", Database: "d",
			},
			expectedParts: []string{"sslmode=prefer"},
		},
		{
			name: "special characters in password",
			cfg: config.PostgresConfig{
				Host: "localhost", Port: 5432, User: "user", Password: "pass@word:123/test",
				Database: "db", SSLMode: "require",
			},
			expectedParts:   []string{"postgres://", "sslmode=require"},
			unexpectedParts: []string{"pass@word:123/test@"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildConnectionString(tt.cfg)
			for _, part := range tt.expectedParts {
				if !strings.Contains(got, part) {
					t.Errorf("connection string %q missing %q", got, part)
				}
			}
			for _, part := range tt.unexpectedParts {
				if strings.Contains(got, part) {
					t.Errorf("connection string %q should not contain %q", got, part)
				}
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: UniqueViolation}
	fk := &pgconn.PgError{Code: ForeignKeyViolation}
	serialization := &pgconn.PgError{Code: SerializationFailure}
	deadlock := &pgconn.PgError{Code: DeadlockDetected}
	wrapped := fmt.Errorf("insert: %w", unique)

	if !isUniqueViolation(unique) || !isUniqueViolation(wrapped) {
		t.Error("unique violations should be detected through wrapping")
	}
	if isUniqueViolation(fk) || isUniqueViolation(errors.New("plain")) || isUniqueViolation(nil) {
		t.Error("only 23505 is a unique violation")
	}
	if !isForeignKeyViolation(fk) {
		t.Error("23503 should be a foreign key violation")
	}
	if !isRetryableError(serialization) || !isRetryableError(deadlock) {
		t.Error("serialization failures and deadlocks are retryable")
	}
	if isRetryableError(unique) || isRetryableError(nil) {
		t.Error("constraint violations are not retryable")
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		got, err := withRetry(ctx, 3, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &pgconn.PgError{Code: SerializationFailure}
			}
			return 42, nil
		})
		if err != nil || got != 42 {
			t.Errorf("withRetry() = %d, %v", got, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, 3, func() (int, error) {
			calls++
			return 0, &pgconn.PgError{Code: UniqueViolation}
		})
		if err == nil || calls != 1 {
			t.Errorf("calls = %d, err = %v; want 1 call and an error", calls, err)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := withRetry(cctx, 3, func() (int, error) {
			return 0, &pgconn.PgError{Code: DeadlockDetected}
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestNewRepositoriesWithPool_Nil(t *testing.T) {
	if _, err := NewRepositoriesWithPool(nil); !errors.Is(err, repository.ErrNilDatabase) {
		t.Errorf("NewRepositoriesWithPool(nil) error = %v", err)
	}
	if _, err := NewRepositoriesWithPool(&Pool{}); !errors.Is(err, repository.ErrNilDatabase) {
		t.Errorf("NewRepositoriesWithPool(empty) error = %v", err)
	}
}

func TestMetadataCodec(t *testing.T) {
	s, err := encodeMetadata(map[string]string{"a": "b"})
	if err != nil || s == nil {
		t.Fatalf("encodeMetadata() = %v, %v", s, err)
	}
	m, err := decodeMetadata([]byte(*s))
	if err != nil || m["a"] != "b" {
		t.Errorf("decodeMetadata() = %v, %v", m, err)
	}

	if s, _ := encodeMetadata(nil); s != nil {
		t.Error("empty metadata should encode as NULL")
	}
	if m, _ := decodeMetadata(nil); m != nil {
		t.Error("NULL metadata should decode as nil")
	}
}
