package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	JWTSecret string

	DatabaseDSN   string
	EncryptionKey string

	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string

	AIProvider    string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string

	SyncInterval    time.Duration
	CleanupInterval time.Duration
	LogRetention    time.Duration
	TrashRetention  time.Duration
	MaxConcurrent   int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		DatabaseDSN:   getEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=mailpilot port=5432 sslmode=disable"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/auth/gmail/callback"),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenant:       getEnv("MICROSOFT_TENANT", "common"),

		AIProvider:    getEnv("AI_PROVIDER", "auto"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3"),

		SyncInterval:    getDuration("SYNC_INTERVAL", time.Minute),
		CleanupInterval: getDuration("CLEANUP_INTERVAL", 24*time.Hour),
		LogRetention:    getDuration("LOG_RETENTION", 30*24*time.Hour),
		TrashRetention:  getDuration("TRASH_RETENTION", 7*24*time.Hour),
		MaxConcurrent:   getInt("MAX_CONCURRENT_SYNCS", 4),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
