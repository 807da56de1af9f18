package events

import (
	"context"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

// Subscription is the server side record of which events a client wants.
// Empty Types means every type.
type Subscription struct {
	ID    string
	Types []EventType
}

// SASToken grants access to the push notification endpoint.
type SASToken struct {
	Token       string
	BaseAddress string
}

// SubscriptionAPI manages subscriptions and credentials on the service.
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, types []EventType) (Subscription, error)
	UpdateSubscription(ctx context.Context, id string, types []EventType) (Subscription, error)
	GetSASToken(ctx context.Context) (SASToken, error)
}

var _ SubscriptionAPI = (*HubSubscriptions)(nil)

// HubSubscriptions implements SubscriptionAPI over a repository client.
type HubSubscriptions struct {
	client hub.RepositoryClient
	retry  hub.RetryPolicy
	logger log.Log
}

func NewHubSubscriptions(client hub.RepositoryClient, retry hub.RetryPolicy, logger log.Log) *HubSubscriptions {
	if logger == nil {
		logger = log.NewNop()
	}
	return &HubSubscriptions{client: client, retry: retry, logger: logger.With(log.String("component", "subscriptions"))}
}

func typeNames(types []EventType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func (h *HubSubscriptions) send(ctx context.Context, id string, state hub.ChangeState, types []EventType) (Subscription, error) {
	cs := &hub.Changeset{}
	cs.Add(hub.NewObjectID(hub.ClassEventSubscription, id), state, map[string]any{"EventTypes": typeNames(types)})

	resp, err := h.client.SendChangeset(ctx, cs)
	if err != nil {
		return Subscription{}, err
	}
	if len(resp.Instances) == 0 {
		return Subscription{}, hub.NewError(hub.NoSubscriptionFound, "service returned no subscription")
	}

	inst := resp.Instances[0]
	sub := Subscription{ID: inst.ObjectID.ID}
	if sub.ID == "" {
		sub.ID = inst.String("Id")
	}
	if sub.ID == "" {
		return Subscription{}, hub.NewError(hub.NoSubscriptionFound, "subscription has no id")
	}
	for _, name := range inst.Strings("EventTypes") {
		sub.Types = append(sub.Types, EventType(name))
	}
	return sub, nil
}

func (h *HubSubscriptions) CreateSubscription(ctx context.Context, types []EventType) (Subscription, error) {
	return h.send(ctx, "", hub.Created, types)
}

func (h *HubSubscriptions) UpdateSubscription(ctx context.Context, id string, types []EventType) (Subscription, error) {
	return h.send(ctx, id, hub.Modified, types)
}

func (h *HubSubscriptions) GetSASToken(ctx context.Context) (SASToken, error) {
	inst, err := hub.Retry(ctx, h.retry, h.logger, "get SAS token", func(ctx context.Context) (hub.Instance, error) {
		return h.client.CreateObject(ctx, hub.NewObjectID(hub.ClassEventSAS, ""), map[string]any{})
	})
	if err != nil {
		return SASToken{}, err
	}
	tok := SASToken{Token: inst.String("EventServiceSASToken"), BaseAddress: inst.String("BaseAddress")}
	if tok.Token == "" || tok.BaseAddress == "" {
		return SASToken{}, hub.NewError(hub.NoSASFound, "service returned no SAS token")
	}
	return tok, nil
}
