// Package config provides configuration management for Caligo.
// It loads settings from environment variables with the CALIGO_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Caligo server.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Detect   DetectConfig
	Audit    AuditConfig
	Jobs     JobsConfig
	Security SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8080)
	Host string // Server host (default: 127.0.0.1)
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	TTL             time.Duration // Session time-to-live (default: 30m)
	CleanupInterval time.Duration // Expired-session sweep interval (default: 5m)
}

// DetectConfig contains detector settings.
type DetectConfig struct {
	RulesPath     string        // Optional YAML rules file; empty uses the compiled-in defaults
	WatchRules    bool          // Hot-reload the rules file on change (default: true)
	NERURL        string        // NER service base URL; empty disables the model detector
	NERTimeout    time.Duration // One inference call budget (default: 30s)
	NERCacheSize  int           // Detection cache entries (default: 256)
	NERMaxFailure int           // Consecutive failures before the circuit opens (default: 3)
}

// AuditConfig selects and configures the audit trail store.
type AuditConfig struct {
	Engine      string // Audit store engine: sqlite, postgres, none (default: sqlite)
	SQLitePath  string // SQLite database path (default: ./data/audit.db)
	PostgresDSN string // Postgres connection string
}

// JobsConfig contains analysis worker pool settings.
type JobsConfig struct {
	Workers       int           // Worker pool size (default: 4)
	ZombieTimeout time.Duration // Stalled-job timeout (default: 5m)
}

// SecurityConfig contains authentication and rate limiting settings.
type SecurityConfig struct {
	APIToken  string  // Bearer token; empty disables auth
	RateLimit float64 // Requests per second per client (default: 20)
	RateBurst int     // Burst allowance (default: 40)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CALIGO_ prefix.
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("CALIGO_PORT", 8080),
			Host: getEnv("CALIGO_HOST", "127.0.0.1"),
		},
		Session: SessionConfig{
			TTL:             getEnvDuration("CALIGO_SESSION_TTL", 30*time.Minute),
			CleanupInterval: getEnvDuration("CALIGO_SESSION_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Detect: DetectConfig{
			RulesPath:     getEnv("CALIGO_RULES_PATH", ""),
			WatchRules:    getEnvBool("CALIGO_RULES_WATCH", true),
			NERURL:        getEnv("CALIGO_NER_URL", ""),
			NERTimeout:    getEnvDuration("CALIGO_NER_TIMEOUT", 30*time.Second),
			NERCacheSize:  getEnvInt("CALIGO_NER_CACHE_SIZE", 256),
			NERMaxFailure: getEnvInt("CALIGO_NER_MAX_FAILURES", 3),
		},
		Audit: AuditConfig{
			Engine:      getEnv("CALIGO_AUDIT_ENGINE", "sqlite"),
			SQLitePath:  getEnv("CALIGO_AUDIT_SQLITE_PATH", "./data/audit.db"),
			PostgresDSN: getEnv("CALIGO_AUDIT_POSTGRES_DSN", ""),
		},
		Jobs: JobsConfig{
			Workers:       getEnvInt("CALIGO_JOB_WORKERS", 4),
			ZombieTimeout: getEnvDuration("CALIGO_JOB_ZOMBIE_TIMEOUT", 5*time.Minute),
		},
		Security: SecurityConfig{
			APIToken:  getEnv("CALIGO_API_TOKEN", ""),
			RateLimit: getEnvFloat("CALIGO_RATE_LIMIT", 20),
			RateBurst: getEnvInt("CALIGO_RATE_BURST", 40),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "45m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
