// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported conversation store backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	LogLevel    slog.Level
	CORSOrigins []string

	DB        DBConfig
	Prompts   PromptConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Telegram  TelegramConfig
	Redis     RedisConfig
	Admin     AdminConfig
	Retention RetentionConfig
}

// DBConfig selects and configures the conversation store.
type DBConfig struct {
	Driver      string
	Path        string
	PostgresDSN string
	MaxOpen     int
	MaxIdle     int
}

// PromptConfig locates the prompt store and its seed file.
type PromptConfig struct {
	DBPath   string
	SeedFile string
}

// LLMConfig configures the OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	IntentModel string
	Temperature float64
	Timeout     time.Duration
}

// RetrievalConfig configures the vector store query endpoint.
type RetrievalConfig struct {
	URL     string
	APIKey  string
	TopK    int
	Timeout time.Duration
}

// TelegramConfig configures outbound Bot API calls.
type TelegramConfig struct {
	Token         string
	Endpoint      string
	WebhookSecret string
	History       int
}

// RedisConfig enables the optional history cache when Address is set.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// AdminConfig controls verification of admin bearer tokens.
type AdminConfig struct {
	JWTSecret string
	Username  string
}

// RetentionConfig controls the Telegram history cleanup.
type RetentionConfig struct {
	Enabled  bool
	Interval time.Duration
	Horizon  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		DB: DBConfig{
			Driver:      strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:        getEnv("DB_PATH", "./data/chat.db"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
			MaxOpen:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdle:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Prompts: PromptConfig{
			DBPath:   getEnv("PROMPT_DB_PATH", "./data/prompts.db"),
			SeedFile: getEnv("PROMPT_SEED_FILE", ""),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			IntentModel: getEnv("LLM_INTENT_MODEL", ""),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			URL:     getEnv("RETRIEVAL_URL", ""),
			APIKey:  getEnv("RETRIEVAL_API_KEY", ""),
			TopK:    getEnvInt("RETRIEVAL_TOP_K", 4),
			Timeout: getEnvDuration("RETRIEVAL_TIMEOUT", 15*time.Second),
		},
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			Endpoint:      getEnv("TELEGRAM_API_ENDPOINT", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			History:       getEnvInt("TELEGRAM_HISTORY_LIMIT", 15),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_HISTORY_TTL", 10*time.Minute),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Username:  getEnv("ADMIN_USERNAME", "admin"),
		},
		Retention: RetentionConfig{
			Enabled:  getEnvBool("RETENTION_ENABLED", true),
			Interval: getEnvDuration("RETENTION_INTERVAL", 24*time.Hour),
			Horizon:  getEnvDuration("RETENTION_HORIZON", 7*24*time.Hour),
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
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverPostgres:
		if c.DB.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DB.Driver)
	}
	if c.Prompts.DBPath == "" {
		return fmt.Errorf("PROMPT_DB_PATH cannot be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.Telegram.History <= 0 {
		return fmt.Errorf("TELEGRAM_HISTORY_LIMIT must be > 0")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0")
	}
	if c.Retention.Horizon <= 0 {
		return fmt.Errorf("RETENTION_HORIZON must be > 0")
	}
	return nil
}

// ClassifierModel returns the model used for intent classification, falling
// back to the chat model when LLM_INTENT_MODEL is unset.
func (c LLMConfig) ClassifierModel() string {
	if c.IntentModel != "" {
		return c.IntentModel
	}
	return c.Model
}

// AdminEnabled reports whether admin routes can verify tokens.
func (c *Config) AdminEnabled() bool {
	return c.Admin.JWTSecret != ""
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
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
