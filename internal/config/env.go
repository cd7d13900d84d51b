package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	SslCertPath  string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	ExtractModel string
	// ExtractBackend selects the Extraction Service: "gemini" (vision model
	// over page ranges) or "local" (docconv, for dev without an API key).
	ExtractBackend string
	Port           string
	LogFile        string

	// Ingestion pipeline knobs.
	PagesPerBatch    int
	MaxBatches       int
	QueueWorkers     int
	QueueMaxAttempts int
	PollInterval     time.Duration
	MaxPollAttempts  int
	JobTTL           time.Duration
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "finlytic-docs"),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		ExtractModel: getEnv("EXTRACT_MODEL", "gemini-1.5-flash"),

		ExtractBackend: getEnv("EXTRACT_BACKEND", "gemini"),
		Port:           getEnv("PORT", "8080"),
		LogFile:        getEnv("LOG_FILE", "finlytic.log"),

		PagesPerBatch:    getEnvInt("PAGES_PER_BATCH", 50),
		MaxBatches:       getEnvInt("MAX_BATCHES", 12),
		QueueWorkers:     getEnvInt("QUEUE_WORKERS", 4),
		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 2*time.Second),
		MaxPollAttempts:  getEnvInt("MAX_POLL_ATTEMPTS", 150),
		JobTTL:           getEnvDuration("JOB_TTL", 30*time.Minute),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
