package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backends
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

const minS3PartSize = 5 * 1024 * 1024

// Default allow-list of declared content types
const defaultAllowedMimeTypes = "application/pdf," +
	"application/msword," +
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document," +
	"application/vnd.ms-excel," +
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet," +
	"application/vnd.ms-powerpoint," +
	"application/vnd.openxmlformats-officedocument.presentationml.presentation," +
	"text/plain,text/csv,image/jpeg,image/png,image/gif," +
	"application/zip,application/x-zip-compressed"

// Config holds all application configuration
type Config struct {
	Port      string
	PublicURL string // Optional: advertised base URL
	LogLevel  string

	DBType   string
	DBPath   string
	Postgres PostgresConfig

	S3 S3Config

	KeyPrefix        string   // Object key prefix for uploads
	ChunkSize        int64    // Part size handed to clients
	ChunkThreshold   int64    // Sizes above this are uploaded in parts
	MaxFileSize      int64    // Largest accepted declared size
	AllowedMimeTypes []string // Lowercased, without parameters

	PresignExpiry     time.Duration // Validity of upload URLs
	DownloadMaxExpiry time.Duration // Upper bound for download URL validity

	CleanupIntervalMinutes int
	AbandonedUploadHours   int

	ReadTimeoutSeconds  int
	WriteTimeoutSeconds int

	TrustProxyHeaders string // "auto", "true" or "false"
	TrustedProxyIPs   string // Comma-separated IPs or CIDR ranges
}

// PostgresConfig holds connection settings for the PostgreSQL record store
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// S3Config holds settings for the S3-compatible object store
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO and friends
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		PublicURL: getEnv("PUBLIC_URL", ""),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),

		DBType: strings.ToLower(getEnv("DB_TYPE", DBTypeSQLite)),
		DBPath: getEnv("DB_PATH", "./chunkvault.db"),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "chunkvault"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "chunkvault"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "prefer"),
			MaxConns: int32(getEnvInt("POSTGRES_MAX_CONNS", 25)),
		},

		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       getEnvBool("S3_PATH_STYLE", false),
		},

		KeyPrefix:        strings.Trim(getEnv("UPLOAD_KEY_PREFIX", "uploads"), "/"),
		ChunkSize:        getEnvInt64("CHUNK_SIZE", 5*1024*1024),
		ChunkThreshold:   getEnvInt64("CHUNK_THRESHOLD", 5*1024*1024),
		MaxFileSize:      getEnvInt64("MAX_FILE_SIZE", 100*1024*1024),
		AllowedMimeTypes: getEnvList("ALLOWED_MIME_TYPES", defaultAllowedMimeTypes),

		PresignExpiry:     time.Duration(getEnvInt("PRESIGN_EXPIRY_SECONDS", 3600)) * time.Second,
		DownloadMaxExpiry: time.Duration(getEnvInt("DOWNLOAD_MAX_EXPIRY_SECONDS", 86400)) * time.Second,

		CleanupIntervalMinutes: getEnvInt("CLEANUP_INTERVAL_MINUTES", 60),
		AbandonedUploadHours:   getEnvInt("ABANDONED_UPLOAD_HOURS", 24),

		ReadTimeoutSeconds:  getEnvInt("READ_TIMEOUT_SECONDS", 30),
		WriteTimeoutSeconds: getEnvInt("WRITE_TIMEOUT_SECONDS", 60),

		TrustProxyHeaders: strings.ToLower(getEnv("TRUST_PROXY_HEADERS", "auto")),
		TrustedProxyIPs:   getEnv("TRUSTED_PROXY_IPS", "127.0.0.1,::1"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PUBLIC_URL must be an absolute http(s) URL, got %q", c.PublicURL)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	switch c.DBType {
	case DBTypeSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DBTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("POSTGRES_HOST cannot be empty")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be between 1 and 65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("POSTGRES_DB cannot be empty")
		}
		if c.Postgres.MaxConns <= 0 {
			return fmt.Errorf("POSTGRES_MAX_CONNS must be positive, got %d", c.Postgres.MaxConns)
		}
	default:
		return fmt.Errorf("DB_TYPE must be %q or %q, got %q", DBTypeSQLite, DBTypePostgres, c.DBType)
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET cannot be empty")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("S3_REGION cannot be empty")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	if c.KeyPrefix == "" {
		return fmt.Errorf("UPLOAD_KEY_PREFIX cannot be empty")
	}

	if c.ChunkSize < minS3PartSize {
		return fmt.Errorf("CHUNK_SIZE must be at least %d bytes, got %d", minS3PartSize, c.ChunkSize)
	}

	if c.ChunkThreshold < c.ChunkSize {
		return fmt.Errorf("CHUNK_THRESHOLD (%d) cannot be below CHUNK_SIZE (%d)", c.ChunkThreshold, c.ChunkSize)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if len(c.AllowedMimeTypes) == 0 {
		return fmt.Errorf("ALLOWED_MIME_TYPES cannot be empty")
	}

	if c.PresignExpiry < time.Minute || c.PresignExpiry > 7*24*time.Hour {
		return fmt.Errorf("PRESIGN_EXPIRY_SECONDS must be between 60 and 604800, got %d", int(c.PresignExpiry.Seconds()))
	}

	if c.DownloadMaxExpiry < time.Minute || c.DownloadMaxExpiry > 7*24*time.Hour {
		return fmt.Errorf("DOWNLOAD_MAX_EXPIRY_SECONDS must be between 60 and 604800, got %d", int(c.DownloadMaxExpiry.Seconds()))
	}

	if c.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL_MINUTES must be positive, got %d", c.CleanupIntervalMinutes)
	}

	if c.AbandonedUploadHours <= 0 {
		return fmt.Errorf("ABANDONED_UPLOAD_HOURS must be positive, got %d", c.AbandonedUploadHours)
	}

	if c.ReadTimeoutSeconds <= 0 || c.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("READ_TIMEOUT_SECONDS and WRITE_TIMEOUT_SECONDS must be positive")
	}

	switch c.TrustProxyHeaders {
	case "auto", "true", "false":
	default:
		return fmt.Errorf("TRUST_PROXY_HEADERS must be auto, true or false, got %q", c.TrustProxyHeaders)
	}

	return nil
}

// IsMimeTypeAllowed reports whether a normalised content type is on the allow-list
func (c *Config) IsMimeTypeAllowed(mimeType string) bool {
	for _, allowed := range c.AllowedMimeTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

// AbandonedUploadAge returns how long an unfinished upload may sit before cleanup
func (c *Config) AbandonedUploadAge() time.Duration {
	return time.Duration(c.AbandonedUploadHours) * time.Hour
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated list of content types
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
