package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	PORT       string
	DB_URL     string
	JWT_SECRET string
	APP_ENV    string
	APP_URL    string

	CORS_ORIGIN string

	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string

	ADMIN_MIGRATION_SECRET string

	REDIS_URL string

	GENERATOR_BASE_URL string
	GENERATOR_API_KEY  string
	GENERATOR_MODEL    string

	BATCH_SIZE   int
	BATCH_DELAY  time.Duration
	SLOT_TIMEOUT time.Duration

	SIGNUP_GRANT int64

	LOG_LEVEL  string
	LOG_FORMAT string
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	APP_ENV = getEnv("APP_ENV", "development")
	APP_URL = getEnv("APP_URL", "http://localhost:5173")
	CORS_ORIGIN = getEnv("CORS_ORIGIN", APP_URL)

	STRIPE_SECRET_KEY = getEnv("STRIPE_SECRET_KEY", "")
	STRIPE_WEBHOOK_SECRET = mustEnv("STRIPE_WEBHOOK_SECRET")

	ADMIN_MIGRATION_SECRET = mustEnv("ADMIN_MIGRATION_SECRET")

	REDIS_URL = getEnv("REDIS_URL", "")

	GENERATOR_BASE_URL = getEnv("GENERATOR_BASE_URL", "")
	GENERATOR_API_KEY = getEnv("GENERATOR_API_KEY", "")
	GENERATOR_MODEL = getEnv("GENERATOR_MODEL", "gpt-4o-mini")

	BATCH_SIZE = getEnvInt("BATCH_SIZE", 3)
	BATCH_DELAY = time.Duration(getEnvInt("BATCH_DELAY_MS", 400)) * time.Millisecond
	SLOT_TIMEOUT = time.Duration(getEnvInt("SLOT_TIMEOUT_SECONDS", 90)) * time.Second

	SIGNUP_GRANT = int64(getEnvInt("SIGNUP_GRANT", 10))

	LOG_LEVEL = getEnv("LOG_LEVEL", "info")
	LOG_FORMAT = getEnv("LOG_FORMAT", "json")
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}
