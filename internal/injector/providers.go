// Package injector wires configuration into the sync components.
package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/hubsync/internal/briefcase"
	"github.com/zeusync/hubsync/internal/config"
	"github.com/zeusync/hubsync/internal/core/changeset"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/events/transport"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/core/observability/metrics"
	"github.com/zeusync/hubsync/internal/storage/blob"
	"github.com/zeusync/hubsync/internal/storage/state"
)

// ProviderSet builds a Briefcase from a Config, a local database and a
// repository client.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideBlobStore,
	ProvideStateStore,
	ProvideDialer,
	ProvideEventManager,
	ProvideBriefcase,
)

func ProvideLogger(cfg *config.Config) (log.Log, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	lc := log.DefaultConfig()
	lc.Level = level
	if cfg.Log.Encoding != "" {
		lc.Encoding = cfg.Log.Encoding
	}
	logger, err := log.NewWithConfig(lc)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// ProvideMetrics registers collectors with the default registry when
// metrics are enabled.
func ProvideMetrics(cfg *config.Config) (metrics.Recorder, error) {
	if !cfg.Metrics.Enabled {
		return metrics.Nop(), nil
	}
	c, err := metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ProvideBlobStore returns nil when direct blob access is disabled, which
// routes every transfer through the repository client.
func ProvideBlobStore(cfg *config.Config, logger log.Log) (blob.Store, error) {
	if !cfg.Blob.Enabled {
		return nil, nil
	}
	s, err := blob.NewMinioStore(cfg.Blob.Minio, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func ProvideStateStore(cfg *config.Config) (state.Store, func(), error) {
	if cfg.State.Driver == "memory" {
		s := state.NewMemoryStore()
		return s, func() { _ = s.Close() }, nil
	}
	s, err := state.OpenSQLite(cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func ProvideDialer(cfg *config.Config, logger log.Log) (events.Dialer, error) {
	return transport.NewDialer(cfg.Events.Transport, logger)
}

func ProvideEventManager(cfg *config.Config, client hub.RepositoryClient, dial events.Dialer, logger log.Log) (*events.Manager, func()) {
	api := events.NewHubSubscriptions(client, cfg.Hub.Retry, logger)
	m := events.NewManager(api, dial, cfg.Events.Listener, logger)
	return m, func() {
		if err := m.Stop(); err != nil {
			logger.Warn("stopping event manager failed", log.Error(err))
		}
	}
}

func ProvideBriefcase(
	cfg *config.Config,
	db briefcase.LocalDB,
	client hub.RepositoryClient,
	blobs blob.Store,
	manager *events.Manager,
	pending state.Store,
	recorder metrics.Recorder,
	logger log.Log,
) *briefcase.Briefcase {
	return briefcase.New(briefcase.Deps{
		DB:           db,
		Client:       client,
		Blobs:        blobs,
		Events:       manager,
		Pending:      pending,
		Metrics:      recorder,
		Logger:       logger,
		MasterFileID: cfg.Hub.MasterFileID,
		Remote: changeset.RemoteConfig{
			DownloadDir: cfg.Hub.DownloadDir,
			Workers:     cfg.Hub.DownloadWorkers,
			Retry:       cfg.Hub.Retry,
		},
		Retry: cfg.Hub.Retry,
		Sync:  cfg.Sync,
	})
}
