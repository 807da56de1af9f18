package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

var _ events.ServiceClient = (*WebSocketClient)(nil)

var errClientClosed = errors.New("event client is closed")

type frame struct {
	msg events.Message
	err error
}

// WebSocketClient streams events over one connection, redialing after a
// token change or a broken read.
type WebSocketClient struct {
	dialer      *websocket.Dialer
	url         string
	pollTimeout time.Duration
	logger      log.Log

	mu     sync.Mutex
	token  string
	conn   *websocket.Conn
	frames chan frame
	done   chan struct{}
	closed bool
}

func NewWebSocketDialer(cfg Config, logger log.Log) events.Dialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.RequestTimeout,
	}
	return func(_ context.Context, sas events.SASToken, subscriptionID string) (events.ServiceClient, error) {
		return &WebSocketClient{
			dialer:      d,
			url:         wsURL(subscriptionURL(sas.BaseAddress, subscriptionID, "/messages/stream")),
			pollTimeout: cfg.PollTimeout,
			logger:      logger.With(log.String("transport", "websocket"), log.String("subscription", subscriptionID)),
			token:       sas.Token,
		}, nil
	}
}

func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func (c *WebSocketClient) Receive(ctx context.Context) (events.Message, error) {
	frames, err := c.connect(ctx)
	if err != nil {
		return events.Message{}, err
	}

	var timeout <-chan time.Time
	if c.pollTimeout > 0 {
		t := time.NewTimer(c.pollTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-frames:
		if f.err != nil {
			c.drop()
			if ctx.Err() != nil {
				return events.Message{}, ctx.Err()
			}
			return events.Message{}, hub.Wrap(hub.ConnectionError, f.err)
		}
		return f.msg, nil
	case <-timeout:
		return events.Message{}, hub.NewError(hub.NoEventsFound, "no events")
	case <-ctx.Done():
		return events.Message{}, ctx.Err()
	}
}

// connect dials when no connection is open and returns its frame channel.
func (c *WebSocketClient) connect(ctx context.Context) (<-chan frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if c.conn != nil {
		return c.frames, nil
	}

	header := http.Header{}
	header.Set("Authorization", c.token)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, statusError(resp.StatusCode, "dial")
		}
		return nil, transportError(ctx, "dial", err)
	}

	c.conn = conn
	c.frames = make(chan frame)
	c.done = make(chan struct{})
	go c.read(conn, c.frames, c.done)
	c.logger.Debug("event stream connected")
	return c.frames, nil
}

func (c *WebSocketClient) read(conn *websocket.Conn, out chan<- frame, done <-chan struct{}) {
	for {
		mt, data, err := conn.ReadMessage()
		f := frame{err: err}
		if err == nil {
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			f.msg = events.Message{ContentType: "application/json", Body: data}
		}
		select {
		case out <- f:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drop closes the current connection so the next Receive redials.
func (c *WebSocketClient) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *WebSocketClient) dropLocked() {
	if c.conn == nil {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	c.conn, c.frames, c.done = nil, nil, nil
}

// UpdateToken takes effect on the next connection.
func (c *WebSocketClient) UpdateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.dropLocked()
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
	return nil
}
