package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/adapters/driving/cli"
	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600))
	return dir
}

func TestBootstrap_MemoryStore(t *testing.T) {
	dir := writeConfig(t, `
[store]
driver = "memory"

[log]
format = "json"
level = "warn"
`)

	svc, err := bootstrap(context.Background(), cli.Options{ConfigDir: dir})
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	assert.NotNil(t, svc.Settings)
	assert.NotNil(t, svc.Processor)
	assert.NotNil(t, svc.Banks)
	assert.NotNil(t, svc.Supervisor)
	assert.NotNil(t, svc.Scheduler)

	mandates, err := svc.Mandates.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mandates)
	require.NoError(t, svc.Mandates.Invalidate(context.Background(), driven.AllMandates))
}

func TestBootstrap_SQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scanpipe.db")
	dir := writeConfig(t, "[store]\ndriver = \"sqlite\"\npath = \""+filepath.ToSlash(dbPath)+"\"\n")

	svc, err := bootstrap(context.Background(), cli.Options{ConfigDir: dir})
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	assert.FileExists(t, dbPath)

	schedules, err := svc.Scheduler.Schedules(context.Background())
	require.NoError(t, err)
	assert.Len(t, schedules, 2)
}

func TestBootstrap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		is     error
	}{
		{"unknown store", "[store]\ndriver = \"mysql\"\n", domain.ErrInvalidInput},
		{"postgres without dsn", "[store]\ndriver = \"postgres\"\n", domain.ErrInvalidInput},
		{"bad duration", "[store]\ndriver = \"memory\"\nretry_delay = \"soon\"\n", domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bootstrap(context.Background(), cli.Options{ConfigDir: writeConfig(t, tt.config)})

			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestOpenNotifier_FallsBackToMemory(t *testing.T) {
	n := openNotifier(domain.NotifySettings{Driver: domain.NotifyDriverRedis, RedisAddr: "127.0.0.1:1"})
	defer n.Close()

	ch, err := n.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Publish(context.Background(), "acme"))
	assert.Equal(t, "acme", <-ch)
}
