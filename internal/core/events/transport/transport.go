// Package transport implements events.ServiceClient over HTTP long polling
// and websockets.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

type Kind string

const (
	KindHTTP      Kind = "http"
	KindWebSocket Kind = "websocket"
)

type Config struct {
	Kind Kind `yaml:"kind" toml:"kind"`
	// PollTimeout is how long one receive waits for a message before
	// reporting that none arrived.
	PollTimeout    time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Kind:           KindHTTP,
		PollTimeout:    40 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// NewDialer returns the dialer for cfg.Kind.
func NewDialer(cfg Config, logger log.Log) (events.Dialer, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	switch cfg.Kind {
	case KindHTTP, "":
		return NewHTTPDialer(cfg, nil, logger), nil
	case KindWebSocket:
		return NewWebSocketDialer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown event transport %q", cfg.Kind)
	}
}

func subscriptionURL(base, subscriptionID, suffix string) string {
	return strings.TrimRight(base, "/") + "/Subscriptions/" + subscriptionID + suffix
}

// statusError maps an event endpoint status to a hub error.
func statusError(status int, op string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return hub.Errorf(hub.Unauthorized, "%s: token rejected (%d)", op, status)
	case status == http.StatusNoContent || status == http.StatusNotFound:
		return hub.Errorf(hub.NoEventsFound, "%s: no events", op)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return hub.Errorf(hub.RequestTimeout, "%s: timed out (%d)", op, status)
	case status >= 500:
		return hub.Errorf(hub.ServiceUnavailable, "%s: status %d", op, status)
	default:
		return hub.Errorf(hub.ConnectionError, "%s: unexpected status %d", op, status)
	}
}

// transportError converts a network failure, leaving context errors as is.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return hub.Wrap(hub.ConnectionError, fmt.Errorf("%s: %w", op, err))
}
