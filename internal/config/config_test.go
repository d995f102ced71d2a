package config

import (
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"PORT", "PUBLIC_URL", "LOG_LEVEL", "DB_TYPE", "DB_PATH",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"POSTGRES_SSLMODE", "POSTGRES_MAX_CONNS",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PATH_STYLE",
	"UPLOAD_KEY_PREFIX", "CHUNK_SIZE", "CHUNK_THRESHOLD", "MAX_FILE_SIZE", "ALLOWED_MIME_TYPES",
	"PRESIGN_EXPIRY_SECONDS", "DOWNLOAD_MAX_EXPIRY_SECONDS",
	"CLEANUP_INTERVAL_MINUTES", "ABANDONED_UPLOAD_HOURS",
	"READ_TIMEOUT_SECONDS", "WRITE_TIMEOUT_SECONDS",
	"TRUST_PROXY_HEADERS", "TRUSTED_PROXY_IPS",
}

// clearEnvVars blanks every variable Load reads; t.Setenv restores them afterwards
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultConfiguration(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("S3_BUCKET", "uploads")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.DBType != DBTypeSQLite {
		t.Errorf("DBType = %s, want sqlite", cfg.DBType)
	}
	if cfg.ChunkSize != 5*1024*1024 {
		t.Errorf("ChunkSize = %d, want 5 MiB", cfg.ChunkSize)
	}
	if cfg.ChunkThreshold != 5*1024*1024 {
		t.Errorf("ChunkThreshold = %d, want 5 MiB", cfg.ChunkThreshold)
	}
	if cfg.MaxFileSize != 100*1024*1024 {
		t.Errorf("MaxFileSize = %d, want 100 MiB", cfg.MaxFileSize)
	}
	if cfg.PresignExpiry != time.Hour {
		t.Errorf("PresignExpiry = %v, want 1h", cfg.PresignExpiry)
	}
	if cfg.DownloadMaxExpiry != 24*time.Hour {
		t.Errorf("DownloadMaxExpiry = %v, want 24h", cfg.DownloadMaxExpiry)
	}
	if cfg.AbandonedUploadAge() != 24*time.Hour {
		t.Errorf("AbandonedUploadAge() = %v, want 24h", cfg.AbandonedUploadAge())
	}
	if cfg.KeyPrefix != "uploads" {
		t.Errorf("KeyPrefix = %s, want uploads", cfg.KeyPrefix)
	}
	if len(cfg.AllowedMimeTypes) != 14 {
		t.Errorf("len(AllowedMimeTypes) = %d, want 14", len(cfg.AllowedMimeTypes))
	}
	if !cfg.IsMimeTypeAllowed("application/pdf") || cfg.IsMimeTypeAllowed("application/x-msdownload") {
		t.Error("unexpected allow-list result")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("S3_BUCKET", "uploads")
	t.Setenv("DB_TYPE", "POSTGRES")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("CHUNK_SIZE", "8388608")
	t.Setenv("CHUNK_THRESHOLD", "16777216")
	t.Setenv("ALLOWED_MIME_TYPES", " Text/Plain , image/png ,")
	t.Setenv("UPLOAD_KEY_PREFIX", "/incoming/")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DBType != DBTypePostgres || cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres settings not applied: %+v", cfg.Postgres)
	}
	if cfg.ChunkSize != 8388608 || cfg.ChunkThreshold != 16777216 {
		t.Errorf("chunk settings = %d/%d", cfg.ChunkSize, cfg.ChunkThreshold)
	}
	if strings.Join(cfg.AllowedMimeTypes, ",") != "text/plain,image/png" {
		t.Errorf("AllowedMimeTypes = %v", cfg.AllowedMimeTypes)
	}
	if cfg.KeyPrefix != "incoming" {
		t.Errorf("KeyPrefix = %q, want incoming", cfg.KeyPrefix)
	}
	if !cfg.S3.PathStyle {
		t.Error("S3.PathStyle should be true")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing bucket", map[string]string{}, "S3_BUCKET"},
		{"bad db type", map[string]string{"S3_BUCKET": "b", "DB_TYPE": "mysql"}, "DB_TYPE"},
		{"chunk below S3 minimum", map[string]string{"S3_BUCKET": "b", "CHUNK_SIZE": "1024"}, "CHUNK_SIZE"},
		{"threshold below chunk", map[string]string{"S3_BUCKET": "b", "CHUNK_SIZE": "10485760"}, "CHUNK_THRESHOLD"},
		{"half credentials", map[string]string{"S3_BUCKET": "b", "S3_ACCESS_KEY_ID": "AKIA"}, "S3_SECRET_ACCESS_KEY"},
		{"presign too short", map[string]string{"S3_BUCKET": "b", "PRESIGN_EXPIRY_SECONDS": "5"}, "PRESIGN_EXPIRY_SECONDS"},
		{"bad log level", map[string]string{"S3_BUCKET": "b", "LOG_LEVEL": "trace"}, "LOG_LEVEL"},
		{"relative public url", map[string]string{"S3_BUCKET": "b", "PUBLIC_URL": "example.com"}, "PUBLIC_URL"},
		{"zero cleanup interval", map[string]string{"S3_BUCKET": "b", "CLEANUP_INTERVAL_MINUTES": "0"}, "CLEANUP_INTERVAL_MINUTES"},
		{"bad proxy mode", map[string]string{"S3_BUCKET": "b", "TRUST_PROXY_HEADERS": "sometimes"}, "TRUST_PROXY_HEADERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("CHUNKVAULT_TEST_INT", "not-a-number")
	if got := getEnvInt("CHUNKVAULT_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %d, want 7", got)
	}
}
