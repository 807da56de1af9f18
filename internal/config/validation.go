package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zeusync/hubsync/internal/core/events/transport"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

// ValidationError names the setting that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Hub.URL != "" {
		if u, err := url.Parse(c.Hub.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add("hub.url", "must be an absolute http(s) URL, got %q", c.Hub.URL)
		}
	}
	if c.Hub.DownloadWorkers < 1 {
		add("hub.download_workers", "must be at least 1, got %d", c.Hub.DownloadWorkers)
	}
	if c.Sync.MaxAttempts < 1 {
		add("sync.max_attempts", "must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.JitterMax < 0 || c.Sync.FallbackDelayMax < 0 || c.Sync.PollInterval < 0 {
		add("sync", "durations must not be negative")
	}
	if c.Sync.EventPolls < 0 {
		add("sync.event_polls", "must not be negative")
	}

	switch c.Events.Transport.Kind {
	case transport.KindHTTP, transport.KindWebSocket:
	default:
		add("events.transport.kind", "unknown transport %q", c.Events.Transport.Kind)
	}
	if c.Events.Listener.MaxUnauthorizedRetries < 0 {
		add("events.listener.max_unauthorized_retries", "must not be negative")
	}

	if c.Blob.Enabled {
		if c.Blob.Minio.Endpoint == "" {
			add("blob.minio.endpoint", "required when blob storage is enabled")
		}
		if c.Blob.Minio.Bucket == "" {
			add("blob.minio.bucket", "required when blob storage is enabled")
		}
	}

	switch c.State.Driver {
	case "sqlite":
		if c.State.Path == "" {
			add("state.path", "required for the sqlite driver")
		}
	case "memory":
	default:
		add("state.driver", "unknown driver %q", c.State.Driver)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
