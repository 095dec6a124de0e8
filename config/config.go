package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Exit codes used by main on startup failure.
const (
	ExitMisconfig          = 2 // missing secret, invalid policy
	ExitStorageUnreachable = 3 // storage unreachable at boot
)

type Config struct {
	Port        string
	Environment string

	// Storage
	DatabasePath string
	RedisURL     string

	// Auth
	CallerTokenSecret string // HS256 secret for caller-identity tokens
	AdminKey          string // bearer for admin endpoints

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int
	PromptVersion  string

	// Policy
	PolicyPath string

	// Classify batch
	MaxEmailsPerBatch int
	WorkerMax         int
	WorkerQueueSize   int
	JobTimeout        time.Duration

	// Digest
	ProviderBaseURL string // deep links in digest cards stay on this host
	DedupeWindow    time.Duration
	TestMode        bool // allows now_override on /digest

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabasePath: getEnv("DATABASE_PATH", "mailsense.db"),
		RedisURL:     getEnv("REDIS_URL", ""),

		CallerTokenSecret: getEnv("CALLER_TOKEN_SECRET", ""),
		AdminKey:          getEnv("ADMIN_KEY", ""),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
		PromptVersion:  getEnv("PROMPT_VERSION", "v3"),

		PolicyPath: getEnv("POLICY_PATH", "policy.yaml"),

		MaxEmailsPerBatch: getEnvInt("MAX_EMAILS_PER_BATCH", 100),
		WorkerMax:         getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 1000),
		JobTimeout:        time.Duration(getEnvInt("JOB_TIMEOUT_SEC", 60)) * time.Second,

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "http://localhost:3000"),
		DedupeWindow:    time.Duration(getEnvInt("DEDUPE_WINDOW_SEC", 300)) * time.Second,
		TestMode:        getEnvBool("TEST_MODE", false),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}, nil
}

// ValidateProduction fails startup when required secrets are unset.
// Development runs without them (the LLM tier degrades to fallback).
func (c *Config) ValidateProduction() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "ADMIN_KEY")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.CallerTokenSecret == "" {
		missing = append(missing, "CALLER_TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets in production: %s", strings.Join(missing, ", "))
	}
	if c.TestMode {
		return fmt.Errorf("TEST_MODE must not be enabled in production")
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
