package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	CORSAllowedOrigins []string

	VideoProvider     string
	DashScopeAPIKey   string
	DashScopeBaseURL  string
	DeepSeekAPIKey    string
	DeepSeekBaseURL   string

	// Orchestration knobs. PollBudget bounds the total wall-clock wait for a
	// provider job; PollInterval is the pause between status checks.
	PollInterval time.Duration
	PollBudget   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
}

// LoadConfig reads configuration from the environment and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		CORSAllowedOrigins: []string{getEnv("CORS_ORIGIN", "http://localhost:3000")},

		VideoProvider:    getEnv("VIDEO_PROVIDER", "dashscope"),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com"),
		DeepSeekAPIKey:   os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekBaseURL:  getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),

		PollInterval: time.Second * time.Duration(getEnvInt("GENERATION_POLL_INTERVAL_SECONDS", 5)),
		PollBudget:   time.Second * time.Duration(getEnvInt("GENERATION_POLL_BUDGET_SECONDS", 300)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
