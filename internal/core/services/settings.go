package services

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyStoreDriver        = "store.driver"
	keyStoreDSN           = "store.dsn"
	keyStorePath          = "store.path"
	keyStoreRetryAttempts = "store.retry_attempts"
	keyStoreRetryDelay    = "store.retry_delay"
	keyStoreCooldown      = "store.cooldown"
	keyStoreQueryTimeout  = "store.query_timeout"

	keyCacheTTL = "cache.ttl"

	keyNotifyDriver        = "notify.driver"
	keyNotifyRedisAddr     = "notify.redis_addr"
	keyNotifyRedisPassword = "notify.redis_password"
	keyNotifyChannel       = "notify.channel"

	keyExtractMinTextLength     = "extract.min_text_length"
	keyExtractMinPrintableRatio = "extract.min_printable_ratio"
	keyExtractNativeTimeout     = "extract.native_timeout"
	keyExtractOCRTimeout        = "extract.ocr_timeout"
	keyExtractConcurrency       = "extract.concurrency"
	keyExtractOCRRate           = "extract.ocr_rate"
	keyExtractRenderDPI         = "extract.render_dpi"

	keyOCRBinary   = "ocr.binary"
	keyOCRLanguage = "ocr.language"

	keyWorkerGracePeriod = "worker.grace_period"

	keyHousekeepingPurgeInterval   = "housekeeping.purge_interval"
	keyHousekeepingRefreshInterval = "housekeeping.refresh_interval"
	keyHousekeepingHistoryKeep     = "housekeeping.history_keep"

	keyLogLevel  = "log.level"
	keyLogFormat = "log.format"
)

// settingKeys lists every key Get reads, in display order.
var settingKeys = []string{
	keyStoreDriver, keyStoreDSN, keyStorePath, keyStoreRetryAttempts, keyStoreRetryDelay,
	keyStoreCooldown, keyStoreQueryTimeout,
	keyCacheTTL,
	keyNotifyDriver, keyNotifyRedisAddr, keyNotifyRedisPassword, keyNotifyChannel,
	keyExtractMinTextLength, keyExtractMinPrintableRatio, keyExtractNativeTimeout, keyExtractOCRTimeout,
	keyExtractConcurrency, keyExtractOCRRate, keyExtractRenderDPI,
	keyOCRBinary, keyOCRLanguage,
	keyWorkerGracePeriod,
	keyHousekeepingPurgeInterval, keyHousekeepingRefreshInterval, keyHousekeepingHistoryKeep,
	keyLogLevel, keyLogFormat,
}

// SettingsService reads application settings from a config store.
// Keys missing from the store fall back to the defaults.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Path returns the config file location.
func (s *SettingsService) Path() string {
	return s.configStore.Path()
}

// Sources reports the layer each setting was read from.
func (s *SettingsService) Sources() []domain.SettingSource {
	out := make([]domain.SettingSource, 0, len(settingKeys))
	for _, key := range settingKeys {
		_, origin, _ := s.configStore.Lookup(key)
		out = append(out, domain.SettingSource{Key: key, Origin: origin})
	}
	return out
}

// Get returns the effective settings. Malformed values and failed
// validation are reported together. Unknown keys in the config file are
// logged and ignored.
func (s *SettingsService) Get() (*domain.Settings, error) {
	for _, key := range s.configStore.Keys() {
		if !slices.Contains(settingKeys, key) {
			logger.Warn("ignoring unknown config key %q in %s", key, s.configStore.Path())
		}
	}

	d := domain.DefaultSettings()
	r := &settingsReader{store: s.configStore}

	settings := &domain.Settings{
		Store: domain.StoreSettings{
			Driver:        domain.StoreDriver(r.str(keyStoreDriver, string(d.Store.Driver))),
			DSN:           r.str(keyStoreDSN, d.Store.DSN),
			Path:          r.str(keyStorePath, d.Store.Path),
			RetryAttempts: r.integer(keyStoreRetryAttempts, d.Store.RetryAttempts),
			RetryDelay:    r.duration(keyStoreRetryDelay, d.Store.RetryDelay),
			Cooldown:      r.duration(keyStoreCooldown, d.Store.Cooldown),
			QueryTimeout:  r.duration(keyStoreQueryTimeout, d.Store.QueryTimeout),
		},
		Cache: domain.CacheSettings{
			TTL: r.duration(keyCacheTTL, d.Cache.TTL),
		},
		Notify: domain.NotifySettings{
			Driver:        domain.NotifyDriver(r.str(keyNotifyDriver, string(d.Notify.Driver))),
			RedisAddr:     r.str(keyNotifyRedisAddr, d.Notify.RedisAddr),
			RedisPassword: r.str(keyNotifyRedisPassword, d.Notify.RedisPassword),
			Channel:       r.str(keyNotifyChannel, d.Notify.Channel),
		},
		Extract: domain.ExtractSettings{
			MinTextLength:     r.integer(keyExtractMinTextLength, d.Extract.MinTextLength),
			MinPrintableRatio: r.number(keyExtractMinPrintableRatio, d.Extract.MinPrintableRatio),
			NativeTimeout:     r.duration(keyExtractNativeTimeout, d.Extract.NativeTimeout),
			OCRTimeout:        r.duration(keyExtractOCRTimeout, d.Extract.OCRTimeout),
			Concurrency:       r.integer(keyExtractConcurrency, d.Extract.Concurrency),
			OCRRate:           r.number(keyExtractOCRRate, d.Extract.OCRRate),
			RenderDPI:         r.integer(keyExtractRenderDPI, d.Extract.RenderDPI),
		},
		OCR: domain.OCRSettings{
			Binary:   r.str(keyOCRBinary, d.OCR.Binary),
			Language: r.str(keyOCRLanguage, d.OCR.Language),
		},
		Worker: domain.WorkerSettings{
			GracePeriod: r.duration(keyWorkerGracePeriod, d.Worker.GracePeriod),
		},
		Housekeeping: domain.HousekeepingSettings{
			PurgeInterval:   r.duration(keyHousekeepingPurgeInterval, d.Housekeeping.PurgeInterval),
			RefreshInterval: r.duration(keyHousekeepingRefreshInterval, d.Housekeeping.RefreshInterval),
			HistoryKeep:     r.integer(keyHousekeepingHistoryKeep, d.Housekeeping.HistoryKeep),
		},
		Log: domain.LogSettings{
			Level:  r.str(keyLogLevel, d.Log.Level),
			Format: r.str(keyLogFormat, d.Log.Format),
		},
	}

	errs := r.errs
	if len(errs) == 0 {
		if err := settings.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return settings, nil
}

// settingsReader converts raw config values, collecting every conversion
// error instead of stopping at the first. TOML yields int64, float64,
// string and bool; environment layers yield strings only.
type settingsReader struct {
	store driven.ConfigStore
	errs  []error
}

func (r *settingsReader) fail(key string, val any, want string) {
	r.errs = append(r.errs, fmt.Errorf("%w: %s: %v is not %s", domain.ErrInvalidInput, key, val, want))
}

// lookup treats an empty string like a missing key.
func (r *settingsReader) lookup(key string) (any, bool) {
	val, _, ok := r.store.Lookup(key)
	if s, isStr := val.(string); ok && isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return val, ok
}

func (r *settingsReader) str(key, def string) string {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, isStr := val.(string)
	if !isStr {
		r.fail(key, val, "a string")
		return def
	}
	return s
}

func (r *settingsReader) integer(key string, def int) int {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	r.fail(key, val, "an integer")
	return def
}

func (r *settingsReader) number(key string, def float64) float64 {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	r.fail(key, val, "a number")
	return def
}

// duration accepts Go duration strings ("5s", "10m") or a number of seconds.
func (r *settingsReader) duration(key string, def time.Duration) time.Duration {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case string:
		v = strings.TrimSpace(v)
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Environment overrides arrive as strings, so "30" means seconds too.
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return seconds(secs)
		}
	case int64:
		return seconds(float64(v))
	case int:
		return seconds(float64(v))
	case float64:
		return seconds(v)
	}
	r.fail(key, val, "a duration")
	return def
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
