package events

import "context"

// Message is a raw push notification.
type Message struct {
	ContentType string
	Body        []byte
}

// ServiceClient receives notifications for one subscription.
//
// Receive contract:
// - Blocks until a message arrives, the transport's own poll window ends or ctx is done.
// - Returns a hub.NoEventsFound error when the poll window ends empty.
// - Returns a hub.Unauthorized error when the token was rejected; UpdateToken then Receive again.
// - Each message is delivered at most once.
type ServiceClient interface {
	Receive(ctx context.Context) (Message, error)
	UpdateToken(token string)
	Close() error
}

// Dialer opens a ServiceClient for a subscription.
type Dialer func(ctx context.Context, sas SASToken, subscriptionID string) (ServiceClient, error)
