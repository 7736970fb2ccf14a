package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the mirror commands.
type Config struct {
	DBPath          string
	LogLevel        string
	SentryDSN       string
	Environment     string
	APIUser         string
	APIKey          string
	Sites           []string
	BatchSize       int
	RequestInterval time.Duration
	ExportDir       string
}

const (
	defaultDBPath    = "./data/mirror.db"
	defaultLogLevel  = "info"
	defaultExportDir = "./data/pages"

	// The Wikidot API allows 240 requests per minute per key.
	defaultRequestInterval = 250 * time.Millisecond
	defaultBatchSize       = 10
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:          getEnv("DB_PATH", defaultDBPath),
		LogLevel:        getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
		Environment:     os.Getenv("ENV"),
		APIUser:         os.Getenv("WIKIDOT_API_USER"),
		APIKey:          os.Getenv("WIKIDOT_API_KEY"),
		ExportDir:       getEnv("EXPORT_DIR", defaultExportDir),
		RequestInterval: defaultRequestInterval,
		BatchSize:       defaultBatchSize,
	}

	if sitesRaw := os.Getenv("WIKIDOT_SITES"); sitesRaw != "" {
		sites, err := parseSites(sitesRaw)
		if err != nil {
			return nil, eris.Wrap(err, "parsing WIKIDOT_SITES")
		}
		cfg.Sites = sites
	}

	if raw := os.Getenv("SYNC_BATCH_SIZE"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid SYNC_BATCH_SIZE value: %s", raw)
		}
		if size <= 0 {
			return nil, eris.Errorf("SYNC_BATCH_SIZE must be positive, got %d", size)
		}
		cfg.BatchSize = size
	}

	if raw := os.Getenv("SYNC_REQUEST_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid SYNC_REQUEST_INTERVAL value: %s", raw)
		}
		if interval < 0 {
			return nil, eris.Errorf("SYNC_REQUEST_INTERVAL must not be negative, got %s", interval)
		}
		cfg.RequestInterval = interval
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseSites(raw string) ([]string, error) {
	// Accept either a JSON array of strings or a comma-separated list.
	var arrayInput []string
	if err := json.Unmarshal([]byte(raw), &arrayInput); err == nil {
		return normalizeSites(arrayInput)
	}

	return normalizeSites(strings.Split(raw, ","))
}

func normalizeSites(sites []string) ([]string, error) {
	out := make([]string, 0, len(sites))
	for _, site := range sites {
		trimmed := strings.TrimSpace(site)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	if len(out) == 0 {
		return nil, eris.New("site list is empty")
	}

	return out, nil
}
