// Package config loads the worker's environment-variable configuration,
// grouped the way the rest of this codebase groups its settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the worker's full runtime configuration.
type Config struct {
	// Catalogue (Postgres / Supabase-fronted)
	SupabaseURL            string
	SupabaseServiceRoleKey string

	// Blob store (Cloudflare R2 / S3-compatible)
	R2Endpoint        string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2CustomDomain    string
	R2MaxRetries      int
	R2RetryDelay      time.Duration

	// Model (OpenAI-compatible vLLM endpoint)
	VLLMBaseURL         string
	VLLMAPIKey          string
	VLLMModel           string
	ModelTimeoutSeconds int
	ModelMaxRetries     int

	// Dispatch
	PollSeconds       time.Duration
	MaxRetriesPerJob  int
	NumWorkers        int
	MaxJobsPerRestart int
	JobTimeoutMinutes int
	ModelVersion      string

	// Ambient
	LogFormat string
	HTTPAddr  string

	// Job-lifecycle events (optional)
	KafkaBrokers []string
	KafkaTopic   string
}

// Load builds a Config from the environment. It does not validate
// required fields; callers that need hard-fail-on-missing semantics
// (the worker and enqueue daemons) call Validate.
func Load() *Config {
	return &Config{
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		R2Endpoint:        getEnv("R2_ENDPOINT", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:          getEnv("R2_BUCKET", "chapterbridge-data"),
		R2CustomDomain:    getEnv("R2_CUSTOM_DOMAIN", ""),
		R2MaxRetries:      clampMin(getEnvInt("R2_MAX_RETRIES", 3), 0),
		R2RetryDelay:      getEnvDuration("R2_RETRY_DELAY", 1*time.Second),

		VLLMBaseURL:         getEnv("VLLM_BASE_URL", "http://localhost:8000/v1"),
		VLLMAPIKey:          getEnv("VLLM_API_KEY", "token-anything"),
		VLLMModel:           getEnv("VLLM_MODEL", "qwen2.5-7b"),
		ModelTimeoutSeconds: clampMin(getEnvInt("MODEL_TIMEOUT_SECONDS", 360), 1),
		ModelMaxRetries:     clampMin(getEnvInt("MODEL_MAX_RETRIES", 2), 0),

		PollSeconds:       getEnvDuration("POLL_SECONDS", 3*time.Second),
		MaxRetriesPerJob:  clampMin(getEnvInt("MAX_RETRIES_PER_JOB", 2), 0),
		NumWorkers:        clampMin(getEnvInt("NUM_WORKERS", 4), 1),
		MaxJobsPerRestart: clampMin(getEnvInt("MAX_JOBS_PER_RESTART", 500), 1),
		JobTimeoutMinutes: clampMin(getEnvInt("JOB_TIMEOUT_MINUTES", 3), 1),
		ModelVersion:      getEnv("MODEL_VERSION", "qwen2.5-7b-awq_nlp_pack_v1"),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),

		KafkaBrokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC_EVENTS", "nlp-pack.job-events.v1"),
	}
}

// Validate checks the environment variables this worker requires and
// returns a descriptive error listing every missing one, matching the
// source worker's "collect all, then fail once" style.
func (c *Config) Validate() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.SupabaseServiceRoleKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
	}
	if c.R2Endpoint == "" {
		missing = append(missing, "R2_ENDPOINT")
	}
	if c.R2AccessKeyID == "" {
		missing = append(missing, "R2_ACCESS_KEY_ID")
	}
	if c.R2SecretAccessKey == "" {
		missing = append(missing, "R2_SECRET_ACCESS_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// clampMin returns v if v >= min, otherwise min. Used to keep config
// values in a valid range regardless of what the environment supplies.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
