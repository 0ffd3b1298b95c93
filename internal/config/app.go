package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/metering"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Vision    VisionConfig
	Auth      AuthConfig
	Usage     UsageConfig
	RateLimit RateLimitConfig
	Plans     metering.PlanTable
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port          string
	MaxImageBytes int
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LLM provider names accepted by LLM_PROVIDER.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// LLMConfig holds the streaming chat provider configuration
type LLMConfig struct {
	Provider            string
	OpenRouterAPIKey    string
	OpenRouterBaseURL   string
	AnthropicAPIKey     string
	AnthropicBaseURL    string
	Model               string
	MaxTokens           int
	DefaultSystemPrompt string
	HistoryTurns        int
}

// VisionConfig holds the identify model configuration
type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// Usage store backends accepted by USAGE_STORE.
const (
	UsageStorePostgres = "postgres"
	UsageStoreDynamoDB = "dynamodb"
)

// UsageConfig selects where daily counters live and which day they count.
type UsageConfig struct {
	Store             string
	DynamoTable       string
	ReferenceTimezone string
}

// RateLimitConfig throttles metered routes per user.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// LoadConfig loads and validates application configuration from environment.
// A .env file in the working directory is read first when present.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Log.WithError(err).Warn("Failed to read .env file")
	}

	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:          getEnvOrDefault("SERVER_PORT", "8080"),
		MaxImageBytes: getEnvAsInt("MAX_IMAGE_BYTES", 5<<20),
	}

	config.Database = DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "sadhana"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}

	config.LLM = LLMConfig{
		Provider:            getEnvOrDefault("LLM_PROVIDER", ProviderOpenRouter),
		OpenRouterAPIKey:    os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:   getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:    getEnvOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		Model:               getEnvOrDefault("CHAT_MODEL", "anthropic/claude-3.5-haiku"),
		MaxTokens:           getEnvAsInt("CHAT_MAX_TOKENS", 1024),
		DefaultSystemPrompt: getEnvOrDefault("DEFAULT_SYSTEM_PROMPT", defaultSystemPrompt),
		HistoryTurns:        getEnvAsInt("CHAT_HISTORY_TURNS", 10),
	}
	switch config.LLM.Provider {
	case ProviderOpenRouter:
		if config.LLM.OpenRouterAPIKey == "" {
			logger.Log.Warn("OPENROUTER_API_KEY environment variable not set")
		}
	case ProviderAnthropic:
		if config.LLM.AnthropicAPIKey == "" {
			logger.Log.Warn("ANTHROPIC_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenRouter, ProviderAnthropic, config.LLM.Provider)
	}
	if config.LLM.HistoryTurns <= 0 {
		return nil, fmt.Errorf("CHAT_HISTORY_TURNS must be positive, got %d", config.LLM.HistoryTurns)
	}

	config.Vision = VisionConfig{
		APIKey:  getEnvOrDefault("VISION_API_KEY", config.LLM.OpenRouterAPIKey),
		BaseURL: getEnvOrDefault("VISION_BASE_URL", config.LLM.OpenRouterBaseURL),
		Model:   getEnvOrDefault("VISION_MODEL", "google/gemini-2.0-flash-001"),
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}
	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	config.Usage = UsageConfig{
		Store:             getEnvOrDefault("USAGE_STORE", UsageStorePostgres),
		DynamoTable:       getEnvOrDefault("DYNAMODB_USAGE_TABLE", "usage_logs"),
		ReferenceTimezone: getEnvOrDefault("REFERENCE_TIMEZONE", metering.DefaultReferenceTimezone),
	}
	if config.Usage.Store != UsageStorePostgres && config.Usage.Store != UsageStoreDynamoDB {
		return nil, fmt.Errorf("USAGE_STORE must be %q or %q, got %q", UsageStorePostgres, UsageStoreDynamoDB, config.Usage.Store)
	}

	config.RateLimit = RateLimitConfig{
		RPS:   getEnvAsFloat("RATE_LIMIT_RPS", 1),
		Burst: getEnvAsInt("RATE_LIMIT_BURST", 5),
	}

	plans, err := LoadPlanTable(os.Getenv("PLANS_CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("failed to load plans config: %w", err)
	}
	config.Plans = plans

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}

const defaultSystemPrompt = `You are a gentle companion for daily spiritual practice. Answer questions about Hindu scripture, deities, festivals and rituals clearly and respectfully.

When a statement comes from a specific text, cite it inline as [REF: <source>], for example [REF: Bhagavad Gita 2.47].
Keep answers concise. If you are unsure, say so rather than inventing a source.`
