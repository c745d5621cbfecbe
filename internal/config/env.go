package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig defines the HTTP surface settings.
type ServerConfig struct {
	Port            string
	AllowedOrigins  []string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// ConvertConfig defines conversion behavior and limits.
type ConvertConfig struct {
	TempDir        string
	CombineDefault bool
	OfficeTimeout  time.Duration
	OfficeWorkers  int
	RenderDPI      int
	SweepInterval  time.Duration
	SweepMaxAge    time.Duration
}

// MediaConfig defines the media-extraction endpoints.
type MediaConfig struct {
	APIKey          string
	ExtractTimeout  time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	RedisURL        string
}

// ArchiveConfig defines the optional S3 artifact archive.
type ArchiveConfig struct {
	Bucket     string
	Prefix     string
	Passphrase string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Server  ServerConfig
	Convert ConvertConfig
	Media   MediaConfig
	Archive ArchiveConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     ParseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/savemedia.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   ParseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          ParseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_savemedia",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  parseList(getEnv("ALLOWED_ORIGINS", "")),
		MaxUploadBytes:  parseInt64(getEnv("MAX_UPLOAD_BYTES", "52428800"), 50<<20),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Convert = ConvertConfig{
		TempDir:        getEnv("TEMP_DIR", os.TempDir()),
		CombineDefault: ParseBool(getEnv("COMBINE_DEFAULT", "true")),
		OfficeTimeout:  parseDuration(getEnv("OFFICE_TIMEOUT", "180s"), 180*time.Second),
		OfficeWorkers:  parseInt(getEnv("OFFICE_WORKERS", "2"), 2),
		RenderDPI:      parseInt(getEnv("RENDER_DPI", "200"), 200),
		SweepInterval:  parseDuration(getEnv("SWEEP_INTERVAL", "10m"), 10*time.Minute),
		SweepMaxAge:    parseDuration(getEnv("SWEEP_MAX_AGE", "1h"), time.Hour),
	}

	cfg.Media = MediaConfig{
		APIKey:          getEnv("MEDIA_API_KEY", ""),
		ExtractTimeout:  parseDuration(getEnv("MEDIA_EXTRACT_TIMEOUT", "45s"), 45*time.Second),
		RateLimitMax:    parseInt(getEnv("MEDIA_RATE_LIMIT_MAX", "10"), 10),
		RateLimitWindow: parseDuration(getEnv("MEDIA_RATE_LIMIT_WINDOW", "60s"), time.Minute),
		RedisURL:        getEnv("REDIS_URL", ""),
	}

	cfg.Archive = ArchiveConfig{
		Bucket:     getEnv("ARCHIVE_S3_BUCKET", ""),
		Prefix:     getEnv("ARCHIVE_S3_PREFIX", "converted"),
		Passphrase: getEnv("ARCHIVE_PASSPHRASE", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

// ParseBool recognizes the usual truthy spellings (1, true, yes, on),
// case-insensitively. Anything else is false.
func ParseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
