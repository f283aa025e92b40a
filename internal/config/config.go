package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Database configuration
	DatabaseURL string
	DBMaxConns  int

	// Schedule configuration
	ReportSchedule       string // "daily" or "weekly"
	TimeZone             string
	PendingSweepSchedule string

	// Azure Storage configuration (raw response archive)
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Dashboard revalidation webhook
	RevalidateURL    string
	RevalidateSecret string

	// Provider credentials and models
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicBaseURL  string
	GeminiAPIKey      string
	GeminiModel       string
	PerplexityAPIKey  string
	PerplexityModel   string
	PerplexityBaseURL string

	// EnabledProviders narrows the provider set; empty means every provider with credentials.
	EnabledProviders []string

	// Fan-out budgets
	FanOutTimeout   time.Duration
	ProviderTimeout time.Duration

	// Mention extraction
	ExtractionModel        string
	ExtractionBatchSize    int
	ExtractionConcurrency  int
	ExtractionRateLimit    int
	ExtractionRateInterval time.Duration
	ExtractionMaxAttempts  int
	ExtractionBaseBackoff  time.Duration
	ExtractionMaxBackoff   time.Duration
	MinMentionConfidence   float64
	MentionChunkSize       int
	ScopeLeaseTTL          time.Duration
	// ProcessingStaleAfter is how long a prompt may stay processing before it is reclaimed
	ProcessingStaleAfter time.Duration

	// Competitive reports
	CompetitiveWindowDays int
	TopCompetitors        int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getIntEnv("DB_MAX_CONNS", 10),

		ReportSchedule:       getEnv("REPORT_SCHEDULE", "weekly"),
		TimeZone:             getEnv("TIMEZONE", "UTC"),
		PendingSweepSchedule: getEnv("PENDING_SWEEP_SCHEDULE", "0 */5 * * * *"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "provider-responses"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		RevalidateURL:    getEnv("REVALIDATE_URL", ""),
		RevalidateSecret: getEnv("REVALIDATE_SECRET", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		PerplexityAPIKey:  getEnv("PERPLEXITY_API_KEY", ""),
		PerplexityModel:   getEnv("PERPLEXITY_MODEL", "sonar"),
		PerplexityBaseURL: getEnv("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		EnabledProviders:  getSliceEnv("ENABLED_PROVIDERS", nil),

		FanOutTimeout:   getDurationEnv("FANOUT_TIMEOUT", 180*time.Second),
		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 120*time.Second),

		ExtractionModel:        getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		ExtractionBatchSize:    getIntEnv("EXTRACTION_BATCH_SIZE", 5),
		ExtractionConcurrency:  getIntEnv("EXTRACTION_CONCURRENCY", 3),
		ExtractionRateLimit:    getIntEnv("EXTRACTION_RATE_LIMIT", 10),
		ExtractionRateInterval: getDurationEnv("EXTRACTION_RATE_INTERVAL", time.Second),
		ExtractionMaxAttempts:  getIntEnv("EXTRACTION_MAX_ATTEMPTS", 3),
		ExtractionBaseBackoff:  getDurationEnv("EXTRACTION_BASE_BACKOFF", time.Second),
		ExtractionMaxBackoff:   getDurationEnv("EXTRACTION_MAX_BACKOFF", 10*time.Second),
		MinMentionConfidence:   getFloatEnv("MIN_MENTION_CONFIDENCE", 0.3),
		MentionChunkSize:       getIntEnv("MENTION_CHUNK_SIZE", 100),
		ScopeLeaseTTL:          getDurationEnv("SCOPE_LEASE_TTL", 30*time.Minute),
		ProcessingStaleAfter:   getDurationEnv("PROCESSING_STALE_AFTER", time.Hour),

		CompetitiveWindowDays: getIntEnv("COMPETITIVE_WINDOW_DAYS", 30),
		TopCompetitors:        getIntEnv("TOP_COMPETITORS", 10),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'daily' or 'weekly'")
	}

	if !c.HasProvider() {
		return fmt.Errorf("at least one provider must be configured (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or PERPLEXITY_API_KEY)")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.ExtractionBatchSize <= 0 || c.ExtractionConcurrency <= 0 || c.ExtractionRateLimit <= 0 {
		return fmt.Errorf("extraction batch size, concurrency and rate limit must be positive")
	}

	if c.MinMentionConfidence < 0 || c.MinMentionConfidence > 1 {
		return fmt.Errorf("MIN_MENTION_CONFIDENCE must be within [0,1]")
	}

	if c.ProviderTimeout > c.FanOutTimeout {
		return fmt.Errorf("PROVIDER_TIMEOUT (%s) must not exceed FANOUT_TIMEOUT (%s)", c.ProviderTimeout, c.FanOutTimeout)
	}

	if c.ProcessingStaleAfter < c.FanOutTimeout || c.ProcessingStaleAfter < c.ScopeLeaseTTL {
		return fmt.Errorf("PROCESSING_STALE_AFTER (%s) must cover FANOUT_TIMEOUT and SCOPE_LEASE_TTL", c.ProcessingStaleAfter)
	}

	return nil
}

// ProviderEnabled reports whether the named provider passes the ENABLED_PROVIDERS filter.
func (c *Config) ProviderEnabled(name string) bool {
	if len(c.EnabledProviders) == 0 {
		return true
	}
	for _, p := range c.EnabledProviders {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// HasProvider reports whether any provider credential is set.
func (c *Config) HasProvider() bool {
	return c.OpenAIAPIKey != "" || c.AnthropicAPIKey != "" || c.GeminiAPIKey != "" || c.PerplexityAPIKey != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or a bare number of milliseconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
