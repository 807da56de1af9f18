package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/pkg/generic"
)

// maxEventSize caps a single notification body.
const maxEventSize = 1 << 20

var bodyBuffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

var _ events.ServiceClient = (*HTTPClient)(nil)

// HTTPClient receives by deleting the head of the subscription queue. The
// service holds the request open for the poll timeout.
type HTTPClient struct {
	http    *http.Client
	url     string
	timeout int
	logger  log.Log

	mu    sync.RWMutex
	token string
}

// NewHTTPDialer returns a dialer that creates HTTPClients. A nil hc uses a
// client with cfg.RequestTimeout.
func NewHTTPDialer(cfg Config, hc *http.Client, logger log.Log) events.Dialer {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return func(_ context.Context, sas events.SASToken, subscriptionID string) (events.ServiceClient, error) {
		return &HTTPClient{
			http:    hc,
			url:     subscriptionURL(sas.BaseAddress, subscriptionID, "/messages/head"),
			timeout: int(cfg.PollTimeout.Seconds()),
			logger:  logger.With(log.String("transport", "http"), log.String("subscription", subscriptionID)),
			token:   sas.Token,
		}, nil
	}
}

func (c *HTTPClient) Receive(ctx context.Context) (events.Message, error) {
	url := c.url
	if c.timeout > 0 {
		url += "?timeout=" + strconv.Itoa(c.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return events.Message{}, err
	}
	c.mu.RLock()
	req.Header.Set("Authorization", c.token)
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return events.Message{}, transportError(ctx, "receive", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return events.Message{}, statusError(resp.StatusCode, "receive")
	}
	buf := bodyBuffers.Get()
	defer bodyBuffers.Put(buf)
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, maxEventSize)); err != nil {
		return events.Message{}, transportError(ctx, "read event", err)
	}
	body := bytes.Clone(buf.Bytes())
	c.logger.Debug("event received", log.Int("bytes", len(body)))
	return events.Message{ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func (c *HTTPClient) UpdateToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
