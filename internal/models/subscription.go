package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a named remote source yielding a list of servers plus
// optional traffic/expiry metadata. Servers have no lifecycle outside
// their subscription.
type Subscription struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	Servers     []*ServerSpec `json:"servers"`
	LastUpdated *time.Time    `json:"last_updated,omitempty"`
	UserInfo    *UserInfo     `json:"user_info,omitempty"`
}

// UserInfo carries account usage from the subscription-userinfo header.
// Total == nil means unlimited, Expire == nil means no expiry.
type UserInfo struct {
	UsedTraffic int64      `json:"used_traffic"`
	Total       *int64     `json:"total,omitempty"`
	Expire      *time.Time `json:"expire,omitempty"`
}

func (s *Subscription) Server(id uuid.UUID) *ServerSpec {
	for _, srv := range s.Servers {
		if srv.ID == id {
			return srv
		}
	}
	return nil
}
