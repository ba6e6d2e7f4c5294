package ops

import (
	"fmt"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubscriptionSummary struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	URL         string           `json:"url"`
	LastUpdated string           `json:"last_updated,omitempty"`
	ServerCount int              `json:"server_count"`
	UserInfo    *models.UserInfo `json:"user_info,omitempty"`
}

type SubscriptionListReply struct {
	Status
	Subscriptions []SubscriptionSummary `json:"subscriptions"`
}

type ServerSummary struct {
	ID      uuid.UUID           `json:"id"`
	Remarks string              `json:"remarks"`
	State   models.ServerStatus `json:"status"`
}

type SubscriptionDetailReply struct {
	Status
	SubscriptionSummary
	Servers []ServerSummary `json:"servers"`
}

func summarize(sub *models.Subscription) SubscriptionSummary {
	summary := SubscriptionSummary{
		ID:          sub.ID,
		Name:        sub.Name,
		URL:         sub.URL,
		ServerCount: len(sub.Servers),
		UserInfo:    sub.UserInfo,
	}
	if sub.LastUpdated != nil {
		summary.LastUpdated = sub.LastUpdated.Format(time.RFC3339)
	}
	return summary
}

func (o *Ops) ListSubscriptions() SubscriptionListReply {
	subs := o.store.GetAllSubscriptions()
	summaries := make([]SubscriptionSummary, 0, len(subs))
	for _, sub := range subs {
		summaries = append(summaries, summarize(sub))
	}
	return SubscriptionListReply{
		Status:        success("Subscriptions retrieved successfully"),
		Subscriptions: summaries,
	}
}

func (o *Ops) GetSubscription(subscriptionID string) SubscriptionDetailReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return SubscriptionDetailReply{Status: failure("invalid subscription id")}
	}
	sub := o.store.GetSubscription(subID)
	if sub == nil {
		return SubscriptionDetailReply{Status: failure("Subscription not found")}
	}

	servers := make([]ServerSummary, 0, len(sub.Servers))
	for _, srv := range sub.Servers {
		servers = append(servers, ServerSummary{ID: srv.ID, Remarks: srv.Remarks, State: srv.Status})
	}
	return SubscriptionDetailReply{
		Status:              success("Subscription retrieved successfully"),
		SubscriptionSummary: summarize(sub),
		Servers:             servers,
	}
}

// CreateSubscription fetches the source and persists the new subscription.
// The global port overrides from settings are baked into the stored
// configs; all other overrides are runtime-only.
func (o *Ops) CreateSubscription(name, url string) SubscriptionDetailReply {
	if name == "" || url == "" {
		return SubscriptionDetailReply{Status: failure("name and url are required")}
	}

	settings := o.store.GetSettings()
	sub, err := o.subs.Create(name, url, settings.SocksPort, settings.HTTPPort)
	if err != nil {
		return SubscriptionDetailReply{Status: failure(err.Error())}
	}

	if err := o.store.AddSubscription(sub); err != nil {
		return SubscriptionDetailReply{Status: failure(err.Error())}
	}

	return o.GetSubscription(sub.ID.String())
}

// RefreshSubscription re-syncs the server list from the remote source,
// preserving identity and status of servers matched by remarks.
func (o *Ops) RefreshSubscription(subscriptionID string) SubscriptionDetailReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return SubscriptionDetailReply{Status: failure("invalid subscription id")}
	}
	sub := o.store.GetSubscription(subID)
	if sub == nil {
		return SubscriptionDetailReply{Status: failure("Subscription not found")}
	}

	settings := o.store.GetSettings()
	if err := o.subs.Refresh(sub, settings.SocksPort, settings.HTTPPort); err != nil {
		return SubscriptionDetailReply{Status: failure(err.Error())}
	}
	if err := o.store.SaveSubscription(sub); err != nil {
		return SubscriptionDetailReply{Status: failure(err.Error())}
	}
	return o.GetSubscription(subscriptionID)
}

type SubscriptionActionReply struct {
	Status
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// DeleteSubscription removes the subscription, stopping its server first
// if one of them is current.
func (o *Ops) DeleteSubscription(subscriptionID string) SubscriptionActionReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return SubscriptionActionReply{Status: failure("invalid subscription id")}
	}
	sub := o.store.GetSubscription(subID)
	if sub == nil {
		return SubscriptionActionReply{Status: failure("Subscription not found")}
	}

	if currentID := o.sup.CurrentID(); currentID != uuid.Nil && sub.Server(currentID) != nil {
		if err := o.sup.StopCurrent(); err != nil {
			zap.S().Warnw("failed to stop current server before deleting its subscription", "error", err)
		}
	}

	if err := o.store.DeleteSubscription(subID); err != nil {
		return SubscriptionActionReply{Status: failure(err.Error())}
	}
	return SubscriptionActionReply{
		Status:         success(fmt.Sprintf("Subscription %q deleted", sub.Name)),
		SubscriptionID: subID,
	}
}

// RenameSubscription updates the display name only; the URL and servers
// are untouched.
func (o *Ops) RenameSubscription(subscriptionID, name string) SubscriptionActionReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return SubscriptionActionReply{Status: failure("invalid subscription id")}
	}
	if name == "" {
		return SubscriptionActionReply{Status: failure("name is required")}
	}
	sub := o.store.GetSubscription(subID)
	if sub == nil {
		return SubscriptionActionReply{Status: failure("Subscription not found")}
	}

	sub.Name = name
	if err := o.store.SaveSubscription(sub); err != nil {
		return SubscriptionActionReply{Status: failure(err.Error())}
	}
	return SubscriptionActionReply{
		Status:         success("Subscription renamed"),
		SubscriptionID: subID,
	}
}
