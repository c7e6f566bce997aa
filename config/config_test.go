package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_PORT", "PORT", "ALLOW_ORIGIN", "REGION", "KB_REGION", "MODEL_ID",
		"LANGUAGE_MODEL_NAME", "INVOKE_KB", "KNOWLEDGE_BASE_ID", "KB_NUMBER_OF_RESULTS",
		"API_KEYS", "POSTGRES_DSN", "REDIS_ADDR", "RATE_LIMIT_TPM",
		"UPSTREAM_MAX_ATTEMPTS", "BREAKER_FAILURES", "OTEL_EXPORTER_TYPE",
		"OTEL_EXPORTER_ENDPOINT", "LOG_LEVEL", "LOG_FORMAT", "RUN_SEED", "SEED_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "k1, k2 ,,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "*", cfg.AllowOrigin)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultRegion, cfg.KBRegion)
	assert.Equal(t, DefaultModelID, cfg.ModelID)
	assert.Equal(t, DefaultModelID, cfg.LanguageModelName)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)
	assert.False(t, cfg.InvokeKB)
	assert.Equal(t, 2, cfg.KBNumberOfResults)
	assert.Equal(t, int64(100000), cfg.DefaultRateLimitTPM)
	assert.Equal(t, uint(3), cfg.UpstreamMaxAttempts)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.Equal(t, "stdout", cfg.OTELExporterType)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://localhost/gw")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0")
	t.Setenv("LANGUAGE_MODEL_NAME", "assistant")
	t.Setenv("INVOKE_KB", "true")
	t.Setenv("KNOWLEDGE_BASE_ID", "KB123")
	t.Setenv("KB_NUMBER_OF_RESULTS", "5")
	t.Setenv("OTEL_EXPORTER_TYPE", "none")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "assistant", cfg.LanguageModelName)
	assert.True(t, cfg.InvokeKB)
	assert.Equal(t, "KB123", cfg.KnowledgeBaseID)
	assert.Equal(t, 5, cfg.KBNumberOfResults)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "k")
	t.Setenv("PORT", "7000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"no key source":    {},
		"kb without id":    {"API_KEYS": "k", "INVOKE_KB": "1"},
		"bad bool":         {"API_KEYS": "k", "INVOKE_KB": "maybe"},
		"zero results":     {"API_KEYS": "k", "KB_NUMBER_OF_RESULTS": "0"},
		"bad tpm":          {"API_KEYS": "k", "RATE_LIMIT_TPM": "lots"},
		"bad exporter":     {"API_KEYS": "k", "OTEL_EXPORTER_TYPE": "jaeger"},
		"seed without dsn": {"API_KEYS": "k", "RUN_SEED": "true", "SEED_API_KEY": "s"},
		"negative breaker": {"API_KEYS": "k", "BREAKER_FAILURES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	require.NoError(t, SetupLogging(&Config{LogLevel: "debug", LogFormat: "json"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, SetupLogging(&Config{LogLevel: "loud"}))
}
