package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Ledger backends
const (
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
	LedgerNone     = "none"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Port int

	// Filesystem layout
	PublicDir string // root for source images and generated artifacts
	ThemesDir string // theme backgrounds

	// External tools
	FFmpegPath  string
	FFprobePath string
	ToolTimeout time.Duration // 0 disables the per-invocation timeout

	ProbeWorkers     int
	SignatureWorkers int

	LogLevel string

	// Run ledger
	Ledger     string
	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDatabase string

	// Artifact publication (disabled when S3Bucket is empty)
	S3Bucket string
	S3Prefix string
	S3Region string
}

// OutputDir is where the pipeline writes its fixed-name artifacts.
func (c Config) OutputDir() string {
	return filepath.Join(c.PublicDir, "fresque")
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	publicDir := envStr("FRESQUE_PUBLIC_DIR", "public")

	return Config{
		Port: envInt("FRESQUE_PORT", 8080),

		PublicDir: publicDir,
		ThemesDir: envStr("FRESQUE_THEMES_DIR", filepath.Join(publicDir, "themes")),

		FFmpegPath:  envStr("FRESQUE_FFMPEG", "ffmpeg"),
		FFprobePath: envStr("FRESQUE_FFPROBE", "ffprobe"),
		ToolTimeout: time.Duration(envInt("FRESQUE_TOOL_TIMEOUT", 300)) * time.Second,

		ProbeWorkers:     envInt("FRESQUE_PROBE_WORKERS", 4),
		SignatureWorkers: envInt("FRESQUE_SIGNATURE_WORKERS", 2),

		LogLevel: envStr("FRESQUE_LOG_LEVEL", "info"),

		Ledger:     envStr("FRESQUE_LEDGER", LedgerFile),
		PGHost:     envStr("FRESQUE_PG_HOST", "localhost"),
		PGPort:     envStr("FRESQUE_PG_PORT", "5432"),
		PGUser:     envStr("FRESQUE_PG_USER", "postgres"),
		PGPassword: envStr("FRESQUE_PG_PASSWORD", ""),
		PGDatabase: envStr("FRESQUE_PG_DB", "fresque"),

		S3Bucket: envStr("FRESQUE_S3_BUCKET", ""),
		S3Prefix: envStr("FRESQUE_S3_PREFIX", "fresque"),
		S3Region: envStr("FRESQUE_S3_REGION", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
