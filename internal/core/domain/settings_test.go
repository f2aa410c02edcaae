package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, StoreDriverSQLite, s.Store.Driver)
	assert.Equal(t, 3, s.Store.RetryAttempts)
	assert.Equal(t, 5*time.Second, s.Store.RetryDelay)
	assert.Equal(t, 10*time.Minute, s.Cache.TTL)
	assert.Equal(t, 40, s.Extract.MinTextLength)
	assert.InDelta(t, 0.85, s.Extract.MinPrintableRatio, 1e-9)
	assert.Equal(t, 2, s.Extract.Concurrency)
	assert.Equal(t, "tesseract", s.OCR.Binary)
	assert.Equal(t, NotifyDriverNone, s.Notify.Driver)
	require.NoError(t, s.Validate())
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"unknown store driver", func(s *Settings) { s.Store.Driver = "oracle" }},
		{"postgres without dsn", func(s *Settings) { s.Store.Driver = StoreDriverPostgres }},
		{"zero attempts", func(s *Settings) { s.Store.RetryAttempts = 0 }},
		{"negative delay", func(s *Settings) { s.Store.RetryDelay = -time.Second }},
		{"zero query timeout", func(s *Settings) { s.Store.QueryTimeout = 0 }},
		{"unknown notify driver", func(s *Settings) { s.Notify.Driver = "kafka" }},
		{"redis without address", func(s *Settings) { s.Notify.Driver = NotifyDriverRedis }},
		{"ratio above one", func(s *Settings) { s.Extract.MinPrintableRatio = 1.5 }},
		{"zero ocr timeout", func(s *Settings) { s.Extract.OCRTimeout = 0 }},
		{"zero concurrency", func(s *Settings) { s.Extract.Concurrency = 0 }},
		{"low dpi", func(s *Settings) { s.Extract.RenderDPI = 10 }},
		{"zero grace period", func(s *Settings) { s.Worker.GracePeriod = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSettings_Validate_ReportsAllProblems(t *testing.T) {
	s := DefaultSettings()
	s.Store.RetryAttempts = 0
	s.Extract.Concurrency = 0

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.retry_attempts")
	assert.Contains(t, err.Error(), "extract.concurrency")
}

func TestStoreDriver_IsValid(t *testing.T) {
	assert.True(t, StoreDriverPostgres.IsValid())
	assert.True(t, StoreDriverSQLite.IsValid())
	assert.True(t, StoreDriverMemory.IsValid())
	assert.False(t, StoreDriver("").IsValid())
}
