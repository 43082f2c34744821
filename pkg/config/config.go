// Package config loads the advisor configuration from environment
// variables. Every knob has a working default so a bare process comes
// up with an embedded store and no external dependencies.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full configuration surface.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the decision store: a postgres:// URL uses the
	// Postgres store, anything else is treated as a SQLite path.
	DatabaseURL string
	RedisURL    string

	PolicyRemoteURL         string
	PolicyRemoteTimeout     time.Duration
	PolicyCacheTTL          time.Duration
	PolicyCircuitThreshold  int
	PolicyCircuitCoolOff    time.Duration

	ReasoningTimeoutMs   int64
	ReasoningDefaultMode string

	DedupTTL        time.Duration
	DedupMaxEntries int

	CooldownDefaultMs int64

	DLQMaxSize     int
	DLQMaxAttempts int
	DLQBackoffBase time.Duration
	DLQBackoffMult float64
	DLQBackoffCap  time.Duration

	NotifierMaxConcurrency int64
	NotifierTimeout        time.Duration
	NotifierRetries        int
	NotifierBackoffBase    time.Duration
	NotifierBackoffMult    float64
	NotifyLevel            string
	MinWarnConfidence      float64
	ChannelProfilePath     string

	OTLPEndpoint       string
	ObservabilityOn    bool
	ServiceEnvironment string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		DatabaseURL: getEnv("DATABASE_URL", "advisor.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		PolicyRemoteURL:        os.Getenv("POLICY_REMOTE_URL"),
		PolicyRemoteTimeout:    getEnvMs("POLICY_REMOTE_TIMEOUT_MS", 2000),
		PolicyCacheTTL:         getEnvMs("POLICY_CACHE_TTL_MS", 30_000),
		PolicyCircuitThreshold: getEnvInt("POLICY_CIRCUIT_FAILURE_THRESHOLD", 5),
		PolicyCircuitCoolOff:   getEnvMs("POLICY_CIRCUIT_COOL_OFF_MS", 60_000),

		ReasoningTimeoutMs:   int64(getEnvInt("REASONING_TIMEOUT_MS", 500)),
		ReasoningDefaultMode: getEnv("REASONING_DEFAULT_MODE", "default"),

		DedupTTL:        getEnvMs("DEDUP_TTL_MS", 60_000),
		DedupMaxEntries: getEnvInt("DEDUP_MAX_ENTRIES", 100_000),

		CooldownDefaultMs: int64(getEnvInt("COOLDOWN_DEFAULT_MS", 0)),

		DLQMaxSize:     getEnvInt("DLQ_MAX_SIZE", 1000),
		DLQMaxAttempts: getEnvInt("DLQ_MAX_ATTEMPTS", 10),
		DLQBackoffBase: getEnvMs("DLQ_BACKOFF_BASE_MS", 1000),
		DLQBackoffMult: getEnvFloat("DLQ_BACKOFF_MULTIPLIER", 2.0),
		DLQBackoffCap:  getEnvMs("DLQ_BACKOFF_CAP_MS", 60_000),

		NotifierMaxConcurrency: int64(getEnvInt("NOTIFIER_MAX_CONCURRENCY", 10)),
		NotifierTimeout:        getEnvMs("NOTIFIER_TIMEOUT_MS", 30_000),
		NotifierRetries:        getEnvInt("NOTIFIER_RETRIES", 3),
		NotifierBackoffBase:    getEnvMs("NOTIFIER_BACKOFF_BASE_MS", 1000),
		NotifierBackoffMult:    getEnvFloat("NOTIFIER_BACKOFF_MULTIPLIER", 2.0),
		NotifyLevel:            getEnv("NOTIFY_LEVEL", "all"),
		MinWarnConfidence:      getEnvFloat("MIN_WARN_CONFIDENCE", 0.7),
		ChannelProfilePath:     os.Getenv("CHANNEL_PROFILE_PATH"),

		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", "localhost:4317"),
		ObservabilityOn:    os.Getenv("OBSERVABILITY_ENABLED") == "true",
		ServiceEnvironment: getEnv("ENVIRONMENT", "development"),
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvMs(key string, defMs int) time.Duration {
	return time.Duration(getEnvInt(key, defMs)) * time.Millisecond
}
