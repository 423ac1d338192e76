package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultQuotaBytes is the per-user storage limit when none is configured (1 GiB).
	DefaultQuotaBytes int64 = 1 << 30
	// DefaultMaxUploadBytes bounds a single in-memory upload (100 MiB).
	DefaultMaxUploadBytes int64 = 100 << 20
)

// Blob store drivers.
const (
	DriverFS    = "fs"
	DriverMinIO = "minio"
)

// Config aggregates runtime configuration for the bucket service.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Storage   StorageConfig
	MinIO     MinIOConfig
	Quota     QuotaConfig
	Auth      AuthConfig
	Admin     AdminConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Reconcile ReconcileConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// StorageConfig selects and parameterizes the blob store.
type StorageConfig struct {
	Driver string
	Root   string
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// QuotaConfig bounds per-user storage.
type QuotaConfig struct {
	LimitBytes     int64
	MaxUploadBytes int64
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
}

// AdminConfig seeds a default administrator. Seeding is skipped when Password is empty.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// ReconcileConfig controls the background consistency sweep.
type ReconcileConfig struct {
	Cron        string
	// Fix applies to the offline reconcile command only; it is rejected together with Cron.
	Fix         bool
	OrphanGrace time.Duration
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("BUCKETSVC_API_HOST", "0.0.0.0"),
			Port:         getInt("BUCKETSVC_API_PORT", 8080),
			ReadTimeout:  getDuration("BUCKETSVC_API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDuration("BUCKETSVC_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("BUCKETSVC_API_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getList("BUCKETSVC_CORS_ORIGINS", nil),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "bucketsvc"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "bucketsvc"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns: int32(getInt("POSTGRES_MAX_CONNS", 10)),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getString("BUCKETSVC_STORAGE_DRIVER", DriverFS)),
			Root:   getString("BUCKETSVC_STORAGE_PATH", "./storage"),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "bucketsvc"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "bucketsvc"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		Quota: QuotaConfig{
			LimitBytes:     getInt64("BUCKETSVC_QUOTA_BYTES", DefaultQuotaBytes),
			MaxUploadBytes: getInt64("BUCKETSVC_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		},
		Auth: loadAuthConfig(),
		Admin: AdminConfig{
			Username: getString("BUCKETSVC_ADMIN_USERNAME", "admin"),
			Email:    getString("BUCKETSVC_ADMIN_EMAIL", "admin@example.com"),
			Password: getString("BUCKETSVC_ADMIN_PASSWORD", ""),
		},
		Log: LogConfig{
			Level:      strings.ToLower(getString("LOG_LEVEL", "info")),
			Format:     strings.ToLower(getString("LOG_FORMAT", "console")),
			File:       getString("LOG_FILE", ""),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 28),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("BUCKETSVC_METRICS_PATH", "/metrics"),
		},
		Reconcile: ReconcileConfig{
			Cron:        getString("BUCKETSVC_RECONCILE_CRON", ""),
			Fix:         getBool("BUCKETSVC_RECONCILE_FIX", false),
			OrphanGrace: getDuration("BUCKETSVC_RECONCILE_ORPHAN_GRACE", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Quota.LimitBytes <= 0 {
		return errors.New("quota limit must be positive")
	}
	if c.Quota.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}
	switch c.Storage.Driver {
	case DriverFS:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return errors.New("storage path is required for the fs driver")
		}
	case DriverMinIO:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Reconcile.Fix && strings.TrimSpace(c.Reconcile.Cron) != "" {
		// Repairs overwrite live counters, so they only run offline via `reconcile --fix`.
		return errors.New("reconcile fix cannot be combined with a reconcile schedule")
	}
	return nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadAuthConfig() AuthConfig {
	cost := getInt("BUCKETSVC_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		AccessTokenSecret:  getString("BUCKETSVC_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		RefreshTokenSecret: getString("BUCKETSVC_JWT_REFRESH_SECRET", "change-me-to-a-64-byte-secret"),
		AccessTokenTTL:     getDuration("BUCKETSVC_AUTH_ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:    getDuration("BUCKETSVC_AUTH_REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         cost,
	}
}
