package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRegion  = "ap-southeast-2"
	DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
)

type Config struct {
	// Server
	Port        string // default: 8000
	AllowOrigin string // default: "*"

	// Vendor
	Region            string
	KBRegion          string
	ModelID           string
	LanguageModelName string // reported in responses when the request has no model

	// Knowledge base
	InvokeKB          bool
	KnowledgeBaseID   string
	KBNumberOfResults int

	// Auth
	APIKeys []string

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	// Upstream resilience
	UpstreamMaxAttempts uint
	BreakerFailures     uint32

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string
	LogFormat            string // "text" or "json"

	// Seeding
	RunSeed    bool
	SeedAPIKey string
}

// Load reads .env, lets .env.production override it, then reads the
// environment. Missing files are not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.production")

	modelID := getEnv("MODEL_ID", DefaultModelID)
	cfg := &Config{
		Port:                 getEnv("APP_PORT", getEnv("PORT", "8000")),
		AllowOrigin:          getEnv("ALLOW_ORIGIN", "*"),
		Region:               getEnv("REGION", DefaultRegion),
		KBRegion:             getEnv("KB_REGION", DefaultRegion),
		ModelID:              modelID,
		LanguageModelName:    getEnv("LANGUAGE_MODEL_NAME", modelID),
		KnowledgeBaseID:      os.Getenv("KNOWLEDGE_BASE_ID"),
		APIKeys:              splitList(os.Getenv("API_KEYS")),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
		SeedAPIKey:           os.Getenv("SEED_API_KEY"),
	}

	var err error
	if cfg.InvokeKB, err = getBool("INVOKE_KB"); err != nil {
		return nil, err
	}
	if cfg.RunSeed, err = getBool("RUN_SEED"); err != nil {
		return nil, err
	}

	n, err := getPositive("KB_NUMBER_OF_RESULTS", 2)
	if err != nil {
		return nil, err
	}
	cfg.KBNumberOfResults = int(n)

	if cfg.DefaultRateLimitTPM, err = getPositive("RATE_LIMIT_TPM", 100000); err != nil {
		return nil, err
	}

	attempts, err := getPositive("UPSTREAM_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	cfg.UpstreamMaxAttempts = uint(attempts)

	failures, err := getPositive("BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	cfg.BreakerFailures = uint32(failures)

	// Validation
	if len(cfg.APIKeys) == 0 && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("API_KEYS or POSTGRES_DSN is required")
	}
	if cfg.InvokeKB && cfg.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("KNOWLEDGE_BASE_ID is required when INVOKE_KB is set")
	}
	if cfg.RunSeed && (cfg.PostgresDSN == "" || cfg.SeedAPIKey == "") {
		return nil, fmt.Errorf("RUN_SEED requires POSTGRES_DSN and SEED_API_KEY")
	}
	switch cfg.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return nil, fmt.Errorf("invalid OTEL_EXPORTER_TYPE %q", cfg.OTELExporterType)
	}

	return cfg, nil
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger.
func SetupLogging(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logrus.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getPositive(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
