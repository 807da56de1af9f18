package events

import (
	"context"
	"sync"

	"github.com/zeusync/hubsync/internal/core/hub"
)

type fakeAPI struct {
	mu      sync.Mutex
	creates [][]EventType
	updates [][]EventType
	tokens  int
	sasErr  error
}

func (f *fakeAPI) CreateSubscription(_ context.Context, types []EventType) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, types)
	return Subscription{ID: "sub-1", Types: types}, nil
}

func (f *fakeAPI) UpdateSubscription(_ context.Context, id string, types []EventType) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, types)
	return Subscription{ID: id, Types: types}, nil
}

func (f *fakeAPI) GetSASToken(context.Context) (SASToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sasErr != nil {
		return SASToken{}, f.sasErr
	}
	f.tokens++
	return SASToken{Token: "tok", BaseAddress: "https://events.example"}, nil
}

func (f *fakeAPI) counts() (creates, updates, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates), f.tokens
}

func (f *fakeAPI) lastUpdate() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

// fakeClient serves messages pushed on msgs. Each entry of unauthorized
// makes one Receive fail before any message is read.
type fakeClient struct {
	msgs chan Message

	mu           sync.Mutex
	unauthorized int
	tokens       []string
	closed       bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{msgs: make(chan Message, 16)}
}

func (c *fakeClient) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if c.unauthorized > 0 {
		c.unauthorized--
		c.mu.Unlock()
		return Message{}, hub.NewError(hub.Unauthorized, "token expired")
	}
	c.mu.Unlock()

	select {
	case m := <-c.msgs:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *fakeClient) UpdateToken(token string) {
	c.mu.Lock()
	c.tokens = append(c.tokens, token)
	c.mu.Unlock()
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) tokenUpdates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *fakeClient) push(t EventType, body string) {
	c.msgs <- Message{ContentType: string(t), Body: []byte(body)}
}

func dialerFor(c *fakeClient, dials *int) Dialer {
	return func(context.Context, SASToken, string) (ServiceClient, error) {
		*dials++
		return c, nil
	}
}
