// Package ops is the operation surface the UI shell calls. Every
// operation returns a JSON-shaped reply value; process and network
// failures are folded into the reply, never raised.
package ops

import (
	"time"

	"raygate/internal/engine"
	"raygate/internal/storage"
	"raygate/internal/subscription"

	"github.com/google/uuid"
)

type Ops struct {
	store       *storage.Store
	sup         *engine.Supervisor
	prober      *engine.Prober
	subs        *subscription.Service
	testTimeout time.Duration
}

func New(store *storage.Store, sup *engine.Supervisor, prober *engine.Prober, subs *subscription.Service, testTimeout time.Duration) *Ops {
	if testTimeout <= 0 {
		testTimeout = 5 * time.Second
	}
	return &Ops{
		store:       store,
		sup:         sup,
		prober:      prober,
		subs:        subs,
		testTimeout: testTimeout,
	}
}

// Status is the common reply envelope.
type Status struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(msg string) Status {
	return Status{Success: false, Error: msg}
}

func success(msg string) Status {
	return Status{Success: true, Message: msg}
}

func parseID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	return id, err == nil
}
