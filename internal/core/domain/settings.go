package domain

import (
	"errors"
	"fmt"
	"time"
)

// StoreDriver selects the relational store implementation.
type StoreDriver string

// Available store drivers.
const (
	// StoreDriverPostgres is a network PostgreSQL server.
	StoreDriverPostgres StoreDriver = "postgres"

	// StoreDriverSQLite is a single-host SQLite database file.
	StoreDriverSQLite StoreDriver = "sqlite"

	// StoreDriverMemory is an in-process store for dry runs.
	StoreDriverMemory StoreDriver = "memory"
)

// IsValid returns true if the driver is recognised.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
		return true
	default:
		return false
	}
}

// NotifyDriver selects how cache invalidation signals are distributed.
type NotifyDriver string

// Available notify drivers.
const (
	// NotifyDriverNone keeps invalidation inside the process.
	NotifyDriverNone NotifyDriver = "none"

	// NotifyDriverRedis distributes invalidation over Redis pub/sub.
	NotifyDriverRedis NotifyDriver = "redis"
)

// IsValid returns true if the driver is recognised.
func (d NotifyDriver) IsValid() bool {
	return d == NotifyDriverNone || d == NotifyDriverRedis
}

// StoreSettings configures the relational store and its retry policy.
type StoreSettings struct {
	Driver StoreDriver

	// DSN is the connection string for postgres.
	DSN string

	// Path is the database file for sqlite.
	Path string

	// RetryAttempts bounds connection attempts per acquisition round.
	RetryAttempts int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// Cooldown is how long a mandate fails fast after an exhausted round.
	Cooldown time.Duration

	// QueryTimeout bounds every store call.
	QueryTimeout time.Duration
}

// CacheSettings configures per-mandate reference data caching.
type CacheSettings struct {
	// TTL is how long a cached snapshot is served without a round trip.
	TTL time.Duration
}

// NotifySettings configures the invalidation channel.
type NotifySettings struct {
	Driver        NotifyDriver
	RedisAddr     string
	RedisPassword string
	Channel       string
}

// ExtractSettings configures the text extractor.
type ExtractSettings struct {
	// MinTextLength is the native text length below which OCR is used.
	MinTextLength int

	// MinPrintableRatio is the printable character ratio below which OCR is used.
	MinPrintableRatio float64

	NativeTimeout time.Duration
	OCRTimeout    time.Duration

	// Concurrency caps parallel page extraction within a document.
	Concurrency int

	// OCRRate limits OCR calls per second. Zero disables limiting.
	OCRRate float64

	// RenderDPI is the rasterisation resolution.
	RenderDPI int
}

// OCRSettings configures the OCR engine.
type OCRSettings struct {
	Binary   string
	Language string
}

// WorkerSettings configures worker lifecycle.
type WorkerSettings struct {
	// GracePeriod bounds how long shutdown waits for workers.
	GracePeriod time.Duration
}

// HousekeepingSettings configures the background scheduler.
type HousekeepingSettings struct {
	PurgeInterval   time.Duration
	RefreshInterval time.Duration

	// HistoryKeep is the number of task results kept per task.
	HistoryKeep int
}

// ConfigOrigin names the configuration layer a value was read from.
type ConfigOrigin string

// Configuration layers, highest precedence first.
const (
	ConfigOriginEnv     ConfigOrigin = "env"
	ConfigOriginDotEnv  ConfigOrigin = ".env"
	ConfigOriginFile    ConfigOrigin = "config file"
	ConfigOriginDefault ConfigOrigin = "default"
)

// SettingSource records which layer supplied a setting.
type SettingSource struct {
	Key    string
	Origin ConfigOrigin
}

// LogSettings configures logging output.
type LogSettings struct {
	// Level is one of debug, info, warn, error.
	Level string

	// Format is console or json.
	Format string
}

// Settings holds all application settings.
type Settings struct {
	Store        StoreSettings
	Cache        CacheSettings
	Notify       NotifySettings
	Extract      ExtractSettings
	OCR          OCRSettings
	Worker       WorkerSettings
	Housekeeping HousekeepingSettings
	Log          LogSettings
}

// DefaultSettings returns settings with the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Store: StoreSettings{
			Driver:        StoreDriverSQLite,
			RetryAttempts: 3,
			RetryDelay:    5 * time.Second,
			Cooldown:      30 * time.Second,
			QueryTimeout:  30 * time.Second,
		},
		Cache: CacheSettings{
			TTL: 10 * time.Minute,
		},
		Notify: NotifySettings{
			Driver:  NotifyDriverNone,
			Channel: "scanpipe:invalidate",
		},
		Extract: ExtractSettings{
			MinTextLength:     40,
			MinPrintableRatio: 0.85,
			NativeTimeout:     20 * time.Second,
			OCRTimeout:        60 * time.Second,
			Concurrency:       2,
			RenderDPI:         200,
		},
		OCR: OCRSettings{
			Binary:   "tesseract",
			Language: "deu+eng",
		},
		Worker: WorkerSettings{
			GracePeriod: 30 * time.Second,
		},
		Housekeeping: HousekeepingSettings{
			PurgeInterval:   time.Hour,
			RefreshInterval: 15 * time.Minute,
			HistoryKeep:     50,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the settings are usable. All problems are reported together.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...))
	}

	if !s.Store.Driver.IsValid() {
		add("store.driver %q", s.Store.Driver)
	}
	if s.Store.Driver == StoreDriverPostgres && s.Store.DSN == "" {
		add("store.dsn is required for postgres")
	}
	if s.Store.RetryAttempts < 1 {
		add("store.retry_attempts must be at least 1")
	}
	if s.Store.RetryDelay < 0 {
		add("store.retry_delay must not be negative")
	}
	if s.Store.QueryTimeout <= 0 {
		add("store.query_timeout must be positive")
	}
	if !s.Notify.Driver.IsValid() {
		add("notify.driver %q", s.Notify.Driver)
	}
	if s.Notify.Driver == NotifyDriverRedis && s.Notify.RedisAddr == "" {
		add("notify.redis_addr is required for redis")
	}
	if s.Extract.MinPrintableRatio < 0 || s.Extract.MinPrintableRatio > 1 {
		add("extract.min_printable_ratio must be within [0, 1]")
	}
	if s.Extract.NativeTimeout <= 0 || s.Extract.OCRTimeout <= 0 {
		add("extraction timeouts must be positive")
	}
	if s.Extract.Concurrency < 1 {
		add("extract.concurrency must be at least 1")
	}
	if s.Extract.RenderDPI < 72 {
		add("extract.render_dpi must be at least 72")
	}
	if s.Worker.GracePeriod <= 0 {
		add("worker.grace_period must be positive")
	}

	return errors.Join(errs...)
}
