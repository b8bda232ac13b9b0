// Package config provides configuration management for the credential
// manager. Values come from environment variables with sensible defaults;
// a .env file is honored in development.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - SITE_URL: Public base URL used to build OAuth callback URLs
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./credhub.db)
//   - POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB / POSTGRES_USER /
//     POSTGRES_PASSWORD / POSTGRES_SSL_MODE
//
// Redis Configuration (job queue, notifier, refresh locks):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Security Configuration:
//   - SECRETS_ENCRYPTION_KEY: key for sensitive-config encryption (required)
//
// Providers (each OAuth kind):
//   - <KIND>_CLIENT_ID / <KIND>_CLIENT_SECRET, e.g. SLACK_CLIENT_ID,
//     SALESFORCE_CLIENT_SECRET, LINKEDIN_ADS_CLIENT_ID, ...
//   - GITHUB_APP_ID / GITHUB_APP_PRIVATE_KEY: GitHub App credentials
//   - MAILJET_API_KEY / MAILJET_SECRET_KEY: Mailjet email backend
//   - AWS_REGION: SES email backend region
//
// Scheduler:
//   - REFRESH_SWEEP_SCHEDULE: cron spec for the refresh sweep
//     (default: "*/2 * * * *")
//   - REFRESH_WORKERS: parallel refresh job workers (default: 4)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the credential manager
type Config struct {
	// Application settings
	Port     string
	LogLevel string
	SiteURL  string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Security
	SecretsEncryptionKey string

	// GitHub App
	GitHubAppID         string
	GitHubAppPrivateKey string

	// Email backends
	MailjetAPIKey    string
	MailjetSecretKey string
	AWSRegion        string

	// Scheduler
	RefreshSweepSchedule string
	RefreshWorkers       int
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		SiteURL:  getEnv("SITE_URL", "http://localhost:8080"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./credhub.db"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 10),

		SecretsEncryptionKey: os.Getenv("SECRETS_ENCRYPTION_KEY"),

		GitHubAppID:         os.Getenv("GITHUB_APP_ID"),
		GitHubAppPrivateKey: os.Getenv("GITHUB_APP_PRIVATE_KEY"),

		MailjetAPIKey:    os.Getenv("MAILJET_API_KEY"),
		MailjetSecretKey: os.Getenv("MAILJET_SECRET_KEY"),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),

		RefreshSweepSchedule: getEnv("REFRESH_SWEEP_SCHEDULE", "*/2 * * * *"),
		RefreshWorkers:       getEnvInt("REFRESH_WORKERS", 4),
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.SecretsEncryptionKey == "" {
		return fmt.Errorf("SECRETS_ENCRYPTION_KEY is required: credential secrets must be encrypted at rest")
	}
	if len(c.SecretsEncryptionKey) < 16 {
		return fmt.Errorf("SECRETS_ENCRYPTION_KEY must be at least 16 characters")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for postgres")
		}
	case "memory":
		// dev/test only
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE %q", c.DatabaseType)
	}

	if c.RefreshWorkers < 1 {
		return fmt.Errorf("REFRESH_WORKERS must be at least 1")
	}

	return nil
}

// PostgresDSN builds the pgx connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// ProviderClientCredentials reads the client id/secret pair for an OAuth
// provider kind from the environment. Kind names map to env prefixes by
// uppercasing and replacing dashes: "linkedin-ads" -> LINKEDIN_ADS.
// Empty values mean the provider is not enabled in this deployment.
func ProviderClientCredentials(kind string) (clientID, clientSecret string) {
	prefix := strings.ToUpper(strings.ReplaceAll(kind, "-", "_"))
	return os.Getenv(prefix + "_CLIENT_ID"), os.Getenv(prefix + "_CLIENT_SECRET")
}

// ProviderSigningSecret reads the inbound webhook signing secret for a
// provider kind, e.g. SLACK_SIGNING_SECRET. Empty means inbound events
// for the kind are rejected.
func ProviderSigningSecret(kind string) string {
	prefix := strings.ToUpper(strings.ReplaceAll(kind, "-", "_"))
	return os.Getenv(prefix + "_SIGNING_SECRET")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
