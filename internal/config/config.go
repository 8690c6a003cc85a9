// Package config provides centralized configuration management for the recorder.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Run      RunConfig
	Schedule ScheduleConfig
	Projects ProjectsConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, sync runs can be long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds snapshot and diff store settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Path is the SQLite database file (default: flightrecorder.db)
	Path string `env:"DATABASE_PATH" default:"flightrecorder.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RunConfig holds batch run settings.
type RunConfig struct {
	// Workers is the number of units diffed in parallel (default: 4)
	Workers int `env:"RUN_WORKERS" default:"4"`

	// UnitTimeout bounds a single (entity type, customer, date) run (default: 2m)
	UnitTimeout time.Duration `env:"RUN_UNIT_TIMEOUT" default:"2m"`

	// BatchTimeout bounds a whole batch run, 0 for none (default: 30m)
	BatchTimeout time.Duration `env:"RUN_BATCH_TIMEOUT" default:"30m"`

	// MaxConcurrent is the maximum number of batch runs at once (default: 2)
	MaxConcurrent int `env:"RUN_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"RUN_MAX_WAIT_TIME" default:"30s"`

	// BatchDays is the backfill chunk size in days (default: 7)
	BatchDays int `env:"RUN_BATCH_DAYS" default:"7"`

	// BatchDelay is the pause between backfill chunks (default: 0s)
	BatchDelay time.Duration `env:"RUN_BATCH_DELAY" default:"0s"`
}

// ScheduleConfig holds the daily sync schedule.
type ScheduleConfig struct {
	// Enabled starts the daily scheduler with the server (default: true)
	Enabled bool `env:"SCHEDULE_ENABLED" default:"true"`

	// Timezone is the IANA zone the schedule and "yesterday" use (default: America/New_York)
	Timezone string `env:"SCHEDULE_TIMEZONE" default:"America/New_York"`

	// Hour is the local hour of the daily run (default: 21)
	Hour int `env:"SCHEDULE_HOUR" default:"21"`

	// Minute is the local minute of the daily run (default: 30)
	Minute int `env:"SCHEDULE_MINUTE" default:"30"`
}

// ProjectsConfig holds the project to customer account mapping.
type ProjectsConfig struct {
	// List is a comma-separated list of "name=customer-id" or "name" entries
	List []string `env:"PROJECTS"`

	// File is an optional YAML file of projects
	File string `env:"PROJECTS_FILE"`

	// DefaultCustomerID is used for listed projects without an explicit id
	DefaultCustomerID string `env:"GOOGLE_ADS_CUSTOMER_ID"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables API key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// Location loads the schedule time zone.
func (c *ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
