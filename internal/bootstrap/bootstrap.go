// Package bootstrap wires configuration to the record store and the object
// store. The server and the admin tool share it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/database"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/repository/postgres"
	"github.com/fjmerc/chunkvault/internal/repository/sqlite"
	"github.com/fjmerc/chunkvault/internal/storage/s3"
)

// OpenRepositories connects the record store selected by DB_TYPE.
// Callers release it with Close.
func OpenRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBType {
	case config.DBTypePostgres:
		repos, err := postgres.NewRepositories(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		slog.Info("database initialized", "type", cfg.DBType, "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return repos, nil

	case config.DBTypeSQLite:
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		repos, err := sqlite.NewRepositories(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database initialized", "type", cfg.DBType, "path", cfg.DBPath)
		return repos, nil

	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.DBType)
	}
}

// OpenGateway connects to the configured bucket.
func OpenGateway(ctx context.Context, cfg *config.Config) (*s3.Gateway, error) {
	gw, err := s3.NewGateway(ctx, s3.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PathStyle:       cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("storage initialized", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
	return gw, nil
}
