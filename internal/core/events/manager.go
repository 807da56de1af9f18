// Package events multiplexes push notification callbacks over a single
// server side subscription.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

type Config struct {
	// MaxUnauthorizedRetries bounds SAS refreshes for one receive.
	MaxUnauthorizedRetries int           `yaml:"max_unauthorized_retries" toml:"max_unauthorized_retries"`
	StopTimeout            time.Duration `yaml:"stop_timeout" toml:"stop_timeout"`
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration `yaml:"error_backoff" toml:"error_backoff"`
}

func DefaultConfig() Config {
	return Config{
		MaxUnauthorizedRetries: 3,
		StopTimeout:            5 * time.Second,
		ErrorBackoff:           time.Second,
	}
}

var ErrStopTimeout = errors.New("event listener did not stop in time")

// Manager owns the subscription, the credentials and the listener goroutine
// for one briefcase.
//
// Behavior:
// - The server subscription covers the union of every registered callback's types.
// - The first Subscribe creates the subscription and starts the listener; later ones update it only when the union changes.
// - Removing the last callback tears down the client and stops the listener.
// - Rejected credentials are refreshed and the receive repeated, a bounded number of times.
// - Stop cancels the pending receive and waits for the listener to exit.
// - A callback may unsubscribe itself; the listener then exits once the callback returns.
type Manager struct {
	api        SubscriptionAPI
	dial       Dialer
	cfg        Config
	logger     log.Log
	dispatcher *dispatcher

	// ops serializes Subscribe, Unsubscribe and Stop.
	ops sync.Mutex

	// mu guards the fields below.
	mu     sync.Mutex
	client ServiceClient
	sas    *SASToken
	sub    *Subscription
	cancel context.CancelFunc

	wg sync.WaitGroup
	// dispatching is set while the listener runs callbacks.
	dispatching atomic.Bool
}

func NewManager(api SubscriptionAPI, dial Dialer, cfg Config, logger log.Log) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.MaxUnauthorizedRetries <= 0 {
		cfg.MaxUnauthorizedRetries = DefaultConfig().MaxUnauthorizedRetries
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	logger = logger.With(log.String("component", "events"))
	return &Manager{
		api:        api,
		dial:       dial,
		cfg:        cfg,
		logger:     logger,
		dispatcher: newDispatcher(logger),
	}
}

// Subscribe registers cb for types, every type when types is empty.
func (m *Manager) Subscribe(ctx context.Context, types []EventType, cb Callback) (Handle, error) {
	if cb == nil {
		return "", hub.NewError(hub.EventCallbackNotSpecified, "callback is nil")
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	h := m.dispatcher.add(types, cb)
	if err := m.syncSubscription(ctx); err != nil {
		m.dispatcher.remove(h)
		m.logger.Error("subscribe failed", log.Error(err))
		return "", hub.Wrap(hub.EventServiceSubscribingError, err)
	}
	m.logger.Debug("callback subscribed", log.String("handle", string(h)))
	return h, nil
}

// Unsubscribe removes the callback registered under h.
func (m *Manager) Unsubscribe(ctx context.Context, h Handle) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if !m.dispatcher.remove(h) {
		return hub.Errorf(hub.EventCallbackNotFound, "no callback registered as %s", h)
	}
	if m.dispatcher.len() == 0 {
		return m.shutdown()
	}
	if err := m.syncSubscription(ctx); err != nil {
		m.logger.Warn("narrowing subscription failed", log.Error(err))
		return hub.Wrap(hub.EventServiceSubscribingError, err)
	}
	return nil
}

// IsSubscribed reports whether a listener is active.
func (m *Manager) IsSubscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// Stop drops every callback and stops the listener.
func (m *Manager) Stop() error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.dispatcher.clear()
	return m.shutdown()
}

// syncSubscription brings the server subscription, the credentials and the
// listener in line with the registered callbacks. Callers hold ops.
func (m *Manager) syncSubscription(ctx context.Context) error {
	want := m.dispatcher.union()

	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()

	switch {
	case sub == nil:
		created, err := m.api.CreateSubscription(ctx, want)
		if err != nil {
			return err
		}
		sub = &created
		m.logger.Info("event subscription created", log.String("subscription", created.ID))
	case !sameTypes(sub.Types, want):
		updated, err := m.api.UpdateSubscription(ctx, sub.ID, want)
		if err != nil {
			return err
		}
		sub = &updated
		m.logger.Debug("event subscription updated", log.String("subscription", updated.ID))
	}

	m.mu.Lock()
	m.sub = sub
	haveClient := m.client != nil
	m.mu.Unlock()
	if haveClient {
		return nil
	}

	sas, err := m.api.GetSASToken(ctx)
	if err != nil {
		return err
	}
	client, err := m.dial(ctx, sas, sub.ID)
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.sas = &sas
	m.client = client
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.listen(listenCtx)
	return nil
}

// shutdown releases the client and waits for the listener. Callers hold ops.
func (m *Manager) shutdown() error {
	m.mu.Lock()
	cancel, client := m.cancel, m.client
	m.cancel, m.client, m.sas, m.sub = nil, nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var closeErr error
	if client != nil {
		closeErr = client.Close()
	}
	if m.dispatching.Load() {
		// The listener is busy in a callback, possibly this one, and sees
		// the cancellation as soon as it returns.
		return closeErr
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.StopTimeout):
		return ErrStopTimeout
	}
	return closeErr
}

func (m *Manager) listen(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Debug("listener started")

	for {
		if ctx.Err() != nil {
			m.logger.Debug("listener stopped")
			return
		}

		evt, err := m.receive(ctx)
		switch {
		case err == nil:
			m.dispatching.Store(true)
			m.dispatcher.dispatch(evt)
			m.dispatching.Store(false)
		case ctx.Err() != nil:
			m.logger.Debug("listener stopped")
			return
		case hub.HasID(err, hub.NoEventsFound):
		case errors.Is(err, ErrUnknownEvent):
			m.logger.Debug("skipping unknown event")
		default:
			m.logger.Warn("receive failed", log.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(m.cfg.ErrorBackoff):
			}
		}
	}
}

// receive fetches one event, refreshing credentials when they are rejected.
func (m *Manager) receive(ctx context.Context) (Event, error) {
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		client := m.client
		m.mu.Unlock()
		if client == nil {
			return Event{}, hub.NewError(hub.NotSubscribedToEventService, "no event client")
		}

		msg, err := client.Receive(ctx)
		if err == nil {
			return Parse(msg.ContentType, msg.Body)
		}
		if !hub.HasID(err, hub.Unauthorized) || attempt >= m.cfg.MaxUnauthorizedRetries {
			return Event{}, err
		}
		if err := m.refreshToken(ctx, client); err != nil {
			return Event{}, err
		}
	}
}

func (m *Manager) refreshToken(ctx context.Context, client ServiceClient) error {
	sas, err := m.api.GetSASToken(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.client == client {
		m.sas = &sas
	}
	m.mu.Unlock()
	client.UpdateToken(sas.Token)
	m.logger.Debug("SAS token refreshed")
	return nil
}
