// Package config loads the archive service configuration from environment
// variables. Every field has an env tag and most have defaults; Load fails
// fast on missing or inconsistent values.
package config

import (
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Archive  ArchiveConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading a request, including archive uploads (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is 0 by default so long exports can stream
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining jobs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects and tunes the database the archives are taken from.
type StoreConfig struct {
	// Driver is postgres or sqlite (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is a PostgreSQL connection string or a SQLite path/DSN.
	// DATABASE_URL and DB_URL are both accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// Schemas searched by table discovery on PostgreSQL (default: public)
	Schemas []string `env:"DB_SCHEMAS" default:"public"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// RestoreBatchSize is the number of inserts per round trip during a
	// PostgreSQL restore (default: 500)
	RestoreBatchSize int `env:"RESTORE_BATCH_SIZE" default:"500"`
}

// ArchiveConfig controls which tables are archived and how jobs run.
type ArchiveConfig struct {
	// Tables is the export list as "name:primary_key,..." in export order
	Tables string `env:"ARCHIVE_TABLES"`

	// Discover appends catalog tables with a primary key to the export list
	Discover bool `env:"ARCHIVE_DISCOVER" default:"false"`

	// MaxConcurrent is the number of jobs allowed at once (default: 4)
	MaxConcurrent int `env:"ARCHIVE_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long a job waits for a slot (default: 30s)
	MaxWait time.Duration `env:"ARCHIVE_MAX_WAIT" default:"30s"`

	// Timeout bounds a single job (default: 10m)
	Timeout time.Duration `env:"ARCHIVE_TIMEOUT" default:"10m"`

	// MaxUploadSize is the largest archive accepted for inspect or restore (default: 100MB)
	MaxUploadSize int64 `env:"ARCHIVE_MAX_UPLOAD_SIZE" default:"104857600"`

	// HistorySize is the number of finished jobs kept in memory (default: 50)
	HistorySize int `env:"ARCHIVE_HISTORY_SIZE" default:"50"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey guards restore with an API key (default: true)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"true"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// forwarding headers are believed
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
