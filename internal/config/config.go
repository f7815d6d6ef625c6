package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Presto   PrestoConfig
	Sync     SyncConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Port string
	Host string
	// AllowedOrigin is the CORS origin of the admin console
	AllowedOrigin string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PrestoConfig configures the stats provider client
type PrestoConfig struct {
	BaseURL        string
	Timeout        int
	RequestsPerMin int
}

// SyncConfig holds scheduler cadences and credential lifecycle limits
type SyncConfig struct {
	FullSyncCron         string
	LiveSyncCron         string
	TokenRefreshCron     string
	MaxRefreshErrors     int
	RefreshBufferMinutes int
	LiveWindowHours      int
	DistributedLocks     bool
}

type SecurityConfig struct {
	// EncryptionKey is the base64 master key for credential encryption
	EncryptionKey string
}

const (
	DefaultFullSyncCron     = "0 */4 * * *"
	DefaultLiveSyncCron     = "*/2 * * * *"
	DefaultTokenRefreshCron = "*/10 * * * *"
	DefaultMaxRefreshErrors = 5
)

func Load() *Config {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			Host:          getEnv("HOST", "localhost"),
			AllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "statsync"),
			Password: getEnv("DB_PASSWORD", "statsync"),
			DBName:   getEnv("DB_NAME", "statsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Presto: PrestoConfig{
			BaseURL:        getEnv("PRESTO_API_URL", "https://gameday-api.prestosports.com/api"),
			Timeout:        getEnvAsInt("PRESTO_TIMEOUT", 30),
			RequestsPerMin: getEnvAsInt("PRESTO_REQUESTS_PER_MIN", 60),
		},
		Sync: SyncConfig{
			FullSyncCron:         getEnv("FULL_SYNC_CRON", DefaultFullSyncCron),
			LiveSyncCron:         getEnv("LIVE_SYNC_CRON", DefaultLiveSyncCron),
			TokenRefreshCron:     getEnv("TOKEN_REFRESH_CRON", DefaultTokenRefreshCron),
			MaxRefreshErrors:     getEnvAsInt("MAX_REFRESH_ERRORS", DefaultMaxRefreshErrors),
			RefreshBufferMinutes: getEnvAsInt("TOKEN_REFRESH_BUFFER_MINUTES", 15),
			LiveWindowHours:      getEnvAsInt("LIVE_WINDOW_HOURS", 4),
			DistributedLocks:     getEnvAsBool("SYNC_DISTRIBUTED_LOCKS", true),
		},
		Security: SecurityConfig{
			EncryptionKey: os.Getenv("CREDENTIALS_ENCRYPTION_KEY"),
		},
	}
}

// Validate checks the values the sync processes cannot run without
func (c *Config) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedules := map[string]string{
		"FULL_SYNC_CRON":     c.Sync.FullSyncCron,
		"LIVE_SYNC_CRON":     c.Sync.LiveSyncCron,
		"TOKEN_REFRESH_CRON": c.Sync.TokenRefreshCron,
	}
	for key, spec := range schedules {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s %q is not a valid cron expression: %w", key, spec, err)
		}
	}

	if c.Sync.MaxRefreshErrors < 1 {
		return fmt.Errorf("MAX_REFRESH_ERRORS must be at least 1, got %d", c.Sync.MaxRefreshErrors)
	}
	if strings.TrimSpace(c.Security.EncryptionKey) == "" {
		return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is required")
	}
	return nil
}

// RefreshBuffer is how far ahead of expiry the proactive job refreshes tokens
func (c *Config) RefreshBuffer() time.Duration {
	return time.Duration(c.Sync.RefreshBufferMinutes) * time.Minute
}

// LiveWindow bounds how long after its start a game stays live-eligible
func (c *Config) LiveWindow() time.Duration {
	return time.Duration(c.Sync.LiveWindowHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
