package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{name: "nil", err: nil},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "syntax error", err: fmt.Errorf("query: %w", &pgconn.PgError{Code: "42601"})},
		{name: "network timeout", err: fmt.Errorf("read: %w", timeoutError{}), unavailable: true},
		{name: "eof", err: io.ErrUnexpectedEOF, unavailable: true},
		{name: "already marked", err: fmt.Errorf("x: %w", domain.ErrStoreUnavailable), unavailable: true},
		{name: "plain error", err: errors.New("boom")},
		{name: "cancelled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unavailable(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.unavailable, errors.Is(got, domain.ErrStoreUnavailable))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestNewStore_RequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")

	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewStore_InvalidDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "postgres://%zz")

	require.Error(t, err)
}
