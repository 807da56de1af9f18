// Package config loads hubsync settings from YAML or TOML files with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/hubsync/internal/briefcase"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/events/transport"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/storage/blob"
)

const envPrefix = "HUBSYNC_"

type Config struct {
	Hub     HubConfig            `yaml:"hub" toml:"hub"`
	Sync    briefcase.SyncConfig `yaml:"sync" toml:"sync"`
	Events  EventsConfig         `yaml:"events" toml:"events"`
	Blob    BlobConfig           `yaml:"blob" toml:"blob"`
	State   StateConfig          `yaml:"state" toml:"state"`
	Log     LogConfig            `yaml:"log" toml:"log"`
	Metrics MetricsConfig        `yaml:"metrics" toml:"metrics"`
}

type HubConfig struct {
	URL          string          `yaml:"url" toml:"url"`
	IModelID     string          `yaml:"imodel_id" toml:"imodel_id"`
	BriefcaseID  int             `yaml:"briefcase_id" toml:"briefcase_id"`
	MasterFileID string          `yaml:"master_file_id" toml:"master_file_id"`
	Retry        hub.RetryPolicy `yaml:"retry" toml:"retry"`
	DownloadDir  string          `yaml:"download_dir" toml:"download_dir"`
	// DownloadWorkers bounds parallel changeset downloads.
	DownloadWorkers int `yaml:"download_workers" toml:"download_workers"`
}

type EventsConfig struct {
	Transport transport.Config `yaml:"transport" toml:"transport"`
	Listener  events.Config    `yaml:"listener" toml:"listener"`
}

type BlobConfig struct {
	Enabled bool             `yaml:"enabled" toml:"enabled"`
	Minio   blob.MinioConfig `yaml:"minio" toml:"minio"`
}

type StateConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

type LogConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Encoding string `yaml:"encoding" toml:"encoding"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{
		Hub: HubConfig{
			Retry:           hub.DefaultRetryPolicy(),
			DownloadDir:     filepath.Join(os.TempDir(), "hubsync", "changesets"),
			DownloadWorkers: 4,
		},
		Sync: briefcase.DefaultSyncConfig(),
		Events: EventsConfig{
			Transport: transport.DefaultConfig(),
			Listener:  events.DefaultConfig(),
		},
		State: StateConfig{
			Driver: "sqlite",
			Path:   filepath.Join(home, ".hubsync", "state.db"),
		},
		Log:     LogConfig{Level: "info", Encoding: "json"},
		Metrics: MetricsConfig{Namespace: "hubsync"},
	}
}

// Load reads path over the defaults, applies HUBSYNC_* overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// ApplyEnvOverrides replaces settings with HUBSYNC_* variables that are set.
func (c *Config) ApplyEnvOverrides() error {
	strs := map[string]*string{
		"HUB_URL":           &c.Hub.URL,
		"IMODEL_ID":         &c.Hub.IModelID,
		"MASTER_FILE_ID":    &c.Hub.MasterFileID,
		"DOWNLOAD_DIR":      &c.Hub.DownloadDir,
		"EVENTS_TRANSPORT":  (*string)(&c.Events.Transport.Kind),
		"BLOB_ENDPOINT":     &c.Blob.Minio.Endpoint,
		"BLOB_BUCKET":       &c.Blob.Minio.Bucket,
		"BLOB_ACCESS_KEY":   &c.Blob.Minio.AccessKey,
		"BLOB_SECRET_KEY":   &c.Blob.Minio.SecretKey,
		"STATE_DRIVER":      &c.State.Driver,
		"STATE_PATH":        &c.State.Path,
		"LOG_LEVEL":         &c.Log.Level,
		"METRICS_NAMESPACE": &c.Metrics.Namespace,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BRIEFCASE_ID":      &c.Hub.BriefcaseID,
		"DOWNLOAD_WORKERS":  &c.Hub.DownloadWorkers,
		"SYNC_MAX_ATTEMPTS": &c.Sync.MaxAttempts,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"EVENTS_POLL_TIMEOUT": &c.Events.Transport.PollTimeout,
		"SYNC_FALLBACK_DELAY": &c.Sync.FallbackDelayMax,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"BLOB_ENABLED":    &c.Blob.Enabled,
		"BLOB_USE_SSL":    &c.Blob.Minio.UseSSL,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for name, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}
