package injector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/config"
	"github.com/zeusync/hubsync/internal/core/hub/hubtest"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
	"github.com/zeusync/hubsync/internal/storage/state"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Hub.DownloadDir = t.TempDir()
	cfg.Log.Level = "silent"
	return cfg
}

func TestInitializeBriefcase(t *testing.T) {
	b, cleanup, err := InitializeBriefcase(testConfig(t), nil, &hubtest.Client{})
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, b)

	_, err = b.Pull(context.Background(), nil)
	assert.Error(t, err, "no local database")
}

func TestInitializeStateStore(t *testing.T) {
	cfg := testConfig(t)
	store, cleanup, err := InitializeStateStore(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &state.SQLiteStore{}, store)

	cfg.State.Driver = "memory"
	mem, cleanupMem, err := InitializeStateStore(cfg)
	require.NoError(t, err)
	defer cleanupMem()
	assert.IsType(t, &state.MemoryStore{}, mem)
}

func TestProvideMetricsDisabled(t *testing.T) {
	rec, err := ProvideMetrics(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, metrics.Nop(), rec)
}

func TestProvideBlobStoreDisabled(t *testing.T) {
	store, err := ProvideBlobStore(testConfig(t), nil)
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestProvideDialerRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Transport.Kind = "pigeon"
	_, err := ProvideDialer(cfg, nil)
	assert.Error(t, err)
}
