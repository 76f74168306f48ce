// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL         string
	APIToken       string
	TenantID       string
	RequestTimeout time.Duration

	PollInterval time.Duration

	UploadMaxBytes int64
	PreviewWindow  int

	RecommendationLimit       int
	RecommendationConcurrency int

	ArchivePrefix string
	ScratchDir    string

	RedisURL string
	RedisTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	NotifyLedgerDir string

	Port        string
	MetricsAddr string
	LogLevel    string

	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads an optional .env file and then the environment. A missing .env is ignored.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		APIURL:         getEnv("INGEST_API_URL", "http://localhost:8000"),
		APIToken:       os.Getenv("INGEST_API_TOKEN"),
		TenantID:       os.Getenv("INGEST_TENANT_ID"),
		RequestTimeout: getEnvDuration("INGEST_REQUEST_TIMEOUT", 30*time.Second),

		PollInterval: getEnvDuration("HISTORY_POLL_INTERVAL", 3*time.Second),

		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 250<<20)),
		PreviewWindow:  getEnvInt("PREVIEW_WINDOW", 100),

		RecommendationLimit:       getEnvInt("RECOMMENDATION_LIMIT", 5),
		RecommendationConcurrency: getEnvInt("RECOMMENDATION_CONCURRENCY", 4),

		ArchivePrefix: os.Getenv("ARCHIVE_URI_PREFIX"),
		ScratchDir:    os.Getenv("INGEST_SCRATCH_DIR"),

		RedisURL: os.Getenv("REDIS_URL"),
		RedisTTL: getEnvDuration("REDIS_TTL", 15*time.Minute),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "fitment-ingest.job-events"),

		NotifyLedgerDir: os.Getenv("NOTIFY_LEDGER_DIR"),

		Port:        getEnv("PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		TemporalAddress:   getEnv("TEMPORAL_TARGET_HOST", getEnv("TEMPORAL_ADDRESS", "localhost:7233")),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "fitment-ingest"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("3s") or bare seconds ("3").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
