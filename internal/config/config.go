package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StorageConfig selects where document source blobs live.
// Backend is "minio" (default) or "local".
type StorageConfig struct {
	Backend  string
	LocalDir string
}

// RenderConfig controls page rasterization and the on-disk render cache.
type RenderConfig struct {
	CacheDir         string
	DPI              int
	Timeout          time.Duration
	PdftoppmPath     string
	VerifySourceHash bool
}

// WatermarkConfig holds the marker burned into every served page.
type WatermarkConfig struct {
	Text string
}

// SessionConfig holds login session settings.
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost   string
	Port      string
	Timezone  string
	Database  DatabaseConfig
	MinIO     MinIOConfig
	Storage   StorageConfig
	Render    RenderConfig
	Watermark WatermarkConfig
	Session   SessionConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:  getEnv("APP_HOST", "localhost:8080"),
		Port:     getEnv("PORT", "8080"),
		Timezone: getEnv("APP_TIMEZONE", "UTC"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "minio"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "data/protected"),
		},
		Render: RenderConfig{
			CacheDir:         getEnv("RENDER_CACHE_DIR", "data/converted"),
			DPI:              getEnvInt("RENDER_DPI", 120),
			Timeout:          getEnvDuration("RENDER_TIMEOUT", 60*time.Second),
			PdftoppmPath:     getEnv("PDFTOPPM_PATH", "pdftoppm"),
			VerifySourceHash: getEnvBool("RENDER_VERIFY_SOURCE_HASH", true),
		},
		Watermark: WatermarkConfig{
			Text: getEnv("WATERMARK_TEXT", "Theta_Learning"),
		},
		Session: SessionConfig{
			TTL:          getEnvDuration("SESSION_TTL", 8*time.Hour),
			CookieName:   getEnv("SESSION_COOKIE_NAME", "session_token"),
			SecureCookie: getEnvBool("SESSION_COOKIE_SECURE", false),
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}
