// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Providers understood by LLM_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionTTL         time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
	LLM                LLMConfig
	Memory             MemoryConfig
	RateLimit          RateLimitConfig
	Log                LogConfig
}

// LLMConfig selects and configures the external completion service.
type LLMConfig struct {
	Provider        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Model           string
	BaseURL         string
	RequestTimeout  time.Duration
	UseMock         bool // USE_MOCK_RESPONSES forces heuristics even with a key
}

// MemoryConfig controls when the session driver re-extracts memory.
type MemoryConfig struct {
	ExtractEvery int
	ExtractMax   int
}

// RateLimitConfig limits completion-backed requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// LogConfig controls the root logger.
type LogConfig struct {
	Format string // "json" or "text"
	Level  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/companion.db"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LLM: LLMConfig{
			Provider:        strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI))),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:           getEnv("LLM_MODEL", ""),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			RequestTimeout:  getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
			UseMock:         getEnvBool("USE_MOCK_RESPONSES", false),
		},
		Memory: MemoryConfig{
			ExtractEvery: getEnvInt("MEMORY_EXTRACT_EVERY", 5),
			ExtractMax:   getEnvInt("MEMORY_EXTRACT_MAX", 30),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.LLM.Provider)
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("LLM_REQUEST_TIMEOUT must be > 0")
	}
	if c.Memory.ExtractEvery <= 0 {
		return fmt.Errorf("MEMORY_EXTRACT_EVERY must be > 0")
	}
	if c.Memory.ExtractMax < c.Memory.ExtractEvery {
		return fmt.Errorf("MEMORY_EXTRACT_MAX must be >= MEMORY_EXTRACT_EVERY")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// APIKey returns the credential for the selected provider.
func (c LLMConfig) APIKey() string {
	if c.Provider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// HeuristicsOnly reports whether every component must use its local
// keyword/template path: mock mode is forced, or no credential is configured.
func (c LLMConfig) HeuristicsOnly() bool {
	return c.UseMock || c.APIKey() == ""
}

// Mode names the active path for clients: "heuristic" or "service".
func (c LLMConfig) Mode() string {
	if c.HeuristicsOnly() {
		return "heuristic"
	}
	return "service"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
