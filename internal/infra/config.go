package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// AccessKeys is the shared-secret allow-list checked on every request.
	AccessKeys []string

	GrsaiAPIKey  string
	GrsaiBaseURL string
	// GrsaiMode selects the submission protocol: "poll" (async-by-id) or
	// "stream" (inline streamed snapshots).
	GrsaiMode string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2PublicURL       string

	// StoragePath backs the filesystem object store used when R2 credentials
	// are absent (development and tests).
	StoragePath    string
	StorageBaseURL string

	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AccessKeys:        splitList(os.Getenv("ACCESS_KEYS")),
		GrsaiAPIKey:       os.Getenv("GRSAI_API_KEY"),
		GrsaiBaseURL:      getEnv("GRSAI_API_BASE_URL", "https://api.grsai.com"),
		GrsaiMode:         getEnv("GRSAI_SUBMIT_MODE", "poll"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Bucket:          os.Getenv("R2_BUCKET_NAME"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),
		StoragePath:       getEnv("STORAGE_PATH", "./data/storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// 0 disables the write timeout; the generate endpoint streams progress
		// lines for the full duration of the vendor submission.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.GrsaiAPIKey == "" {
		return nil, fmt.Errorf("GRSAI_API_KEY is required")
	}
	if len(cfg.AccessKeys) == 0 {
		return nil, fmt.Errorf("ACCESS_KEYS is required")
	}

	switch cfg.GrsaiMode {
	case "poll", "stream":
	default:
		return nil, fmt.Errorf("GRSAI_SUBMIT_MODE must be poll or stream, got %q", cfg.GrsaiMode)
	}

	return cfg, nil
}

// R2Configured reports whether all object store credentials are present.
func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" &&
		c.R2SecretAccessKey != "" && c.R2Bucket != "" && c.R2PublicURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
