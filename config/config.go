package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Encryption of stored OAuth tokens
	EncryptionKey string

	// OpenAI (classification fallback)
	OpenAIAPIKey  string
	LLMModel      string
	LLMMaxTokens  int
	LLMTimeoutSec int

	// OAuth - Google (mailbox grant)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Provider API quota spread across all worker instances
	ProviderRPS   int
	ProviderBurst int

	// Routing thresholds
	RoutingMinGap   int
	RoutingMinScore int

	// Worker
	WorkerID        string
	WorkerMin       int
	WorkerMax       int
	WorkerQueueSize int

	// Backfill
	BackfillBatchSize    int
	BackfillMaxRetries   int
	BackfillLeaseSec     int
	BackfillHeartbeatSec int

	// Consumer (Redis Stream)
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int

	// Scheduler
	SchedulerEnabled        bool
	RetryCheckIntervalSec   int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "caseroute"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Token encryption falls back to the JWT secret so a minimal
		// deployment still never stores grants in the clear.
		EncryptionKey: getEnv("ENCRYPTION_KEY", getEnv("JWT_SECRET", "")),

		// OpenAI
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		LLMModel:      getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:  getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTimeoutSec: getEnvInt("LLM_TIMEOUT_SEC", 15),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// Provider quota
		ProviderRPS:   getEnvInt("PROVIDER_RPS", 10),
		ProviderBurst: getEnvInt("PROVIDER_BURST", 20),

		// Routing thresholds. MIN_GAP is a tunable; the default is meant to
		// be re-validated against observed signal distributions.
		RoutingMinGap:   getEnvInt("ROUTING_MIN_GAP", 20),
		RoutingMinScore: getEnvInt("ROUTING_MIN_SCORE", 20),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:       getEnvInt("WORKER_MIN", 2),
		WorkerMax:       getEnvInt("WORKER_MAX", 16),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Backfill
		BackfillBatchSize:    getEnvInt("BACKFILL_BATCH_SIZE", 50),
		BackfillMaxRetries:   getEnvInt("BACKFILL_MAX_RETRIES", 5),
		BackfillLeaseSec:     getEnvInt("BACKFILL_LEASE_SEC", 120),
		BackfillHeartbeatSec: getEnvInt("BACKFILL_HEARTBEAT_SEC", 30),

		// Consumer
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// Scheduler
		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		RetryCheckIntervalSec: getEnvInt("RETRY_CHECK_INTERVAL_SEC", 30),
	}, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LLMTimeout returns the fallback call budget as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// BackfillLease returns the per-job lease TTL as a duration.
func (c *Config) BackfillLease() time.Duration {
	return time.Duration(c.BackfillLeaseSec) * time.Second
}

// BackfillHeartbeat returns the lease renewal cadence as a duration.
func (c *Config) BackfillHeartbeat() time.Duration {
	return time.Duration(c.BackfillHeartbeatSec) * time.Second
}

// RetryCheckInterval returns the retry scheduler cadence as a duration.
func (c *Config) RetryCheckInterval() time.Duration {
	return time.Duration(c.RetryCheckIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
