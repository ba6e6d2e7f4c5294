package storage

import (
	"errors"
	"testing"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T, baseDir string) *Store {
	t.Helper()
	appStorage, err := NewAppStorageAt(baseDir)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	store, err := NewStore(appStorage)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return store
}

func sampleSubscription() *models.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Subscription{
		ID:   uuid.New(),
		Name: "home",
		URL:  "https://example.com/sub/v2ray-json",
		Servers: []*models.ServerSpec{
			{
				ID:      uuid.New(),
				Remarks: "alpha",
				Raw:     map[string]any{"outbounds": []any{map[string]any{"tag": "proxy"}}},
				Status:  models.StatusStopped,
			},
		},
		LastUpdated: &now,
	}
}

func TestSettingsDefaultsWhenEmpty(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	settings := store.GetSettings()
	if settings.EngineLogLevel != models.LogLevelWarning {
		t.Errorf("log level = %q, want warning default", settings.EngineLogLevel)
	}
	if !settings.SystemProxy {
		t.Error("system proxy default should be on")
	}
	if settings.SocksPort != nil || settings.HTTPPort != nil {
		t.Error("fresh store carries port overrides")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	socksPort := 2080
	settings := store.GetSettings()
	settings.SocksPort = &socksPort
	settings.EngineBinary = "/opt/xray/xray"
	settings.EngineLogLevel = models.LogLevelDebug
	if err := store.UpdateSettings(settings); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A second store over the same directory sees the written document.
	reloaded := newTestStore(t, dir).GetSettings()
	if reloaded.SocksPort == nil || *reloaded.SocksPort != socksPort {
		t.Errorf("socks port = %v, want %d", reloaded.SocksPort, socksPort)
	}
	if reloaded.EngineBinary != "/opt/xray/xray" {
		t.Errorf("binary = %q", reloaded.EngineBinary)
	}
	if reloaded.EngineLogLevel != models.LogLevelDebug {
		t.Errorf("log level = %q", reloaded.EngineLogLevel)
	}
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	port := 2080
	bad := &models.Settings{SocksPort: &port, HTTPPort: &port}
	if err := store.UpdateSettings(bad); err == nil {
		t.Fatal("identical socks and http ports accepted")
	}

	// The stored document is unchanged.
	if settings := store.GetSettings(); settings.SocksPort != nil {
		t.Error("rejected settings leaked into the store")
	}
}

func TestGetSettingsReturnsCopy(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	settings := store.GetSettings()
	settings.EngineBinary = "/tmp/mutated"

	if store.GetSettings().EngineBinary == "/tmp/mutated" {
		t.Error("mutating the returned settings changed the store")
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	sub := sampleSubscription()
	if err := store.AddSubscription(sub); err != nil {
		t.Fatalf("add: %v", err)
	}

	reloaded := newTestStore(t, dir)
	subs := reloaded.GetAllSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	got := subs[0]
	if got.ID != sub.ID || got.Name != sub.Name || got.URL != sub.URL {
		t.Errorf("subscription fields lost in round trip: %+v", got)
	}
	if len(got.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(got.Servers))
	}
	if got.Servers[0].ID != sub.Servers[0].ID {
		t.Error("server identity lost in round trip")
	}
	if got.Servers[0].Raw == nil {
		t.Error("raw config lost in round trip")
	}
}

func TestSaveSubscriptionUnknown(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	if err := store.SaveSubscription(sampleSubscription()); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("got %v, want ErrSubscriptionNotFound", err)
	}
}

func TestDeleteSubscription(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	sub := sampleSubscription()
	if err := store.AddSubscription(sub); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.DeleteSubscription(sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := store.GetSubscription(sub.ID); got != nil {
		t.Error("subscription still present after delete")
	}
	if err := store.DeleteSubscription(sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second delete: got %v, want ErrSubscriptionNotFound", err)
	}
}

func TestUpdateServerStatusPersists(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	sub := sampleSubscription()
	if err := store.AddSubscription(sub); err != nil {
		t.Fatalf("add: %v", err)
	}
	serverID := sub.Servers[0].ID

	if err := store.UpdateServerStatus(sub.ID, serverID, models.StatusRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}

	reloaded := newTestStore(t, dir)
	srv := reloaded.GetServer(sub.ID, serverID)
	if srv == nil {
		t.Fatal("server not found after reload")
	}
	if srv.Status != models.StatusRunning {
		t.Errorf("status = %q, want running", srv.Status)
	}

	if err := store.UpdateServerStatus(sub.ID, uuid.New(), models.StatusStopped); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("unknown server: got %v, want ErrServerNotFound", err)
	}
	if err := store.UpdateServerStatus(uuid.New(), serverID, models.StatusStopped); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("unknown subscription: got %v, want ErrSubscriptionNotFound", err)
	}
}

func TestFindServerScansAllSubscriptions(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	first, second := sampleSubscription(), sampleSubscription()
	for _, sub := range []*models.Subscription{first, second} {
		if err := store.AddSubscription(sub); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	gotSub, gotSrv := store.FindServer(second.Servers[0].ID)
	if gotSub == nil || gotSrv == nil {
		t.Fatal("server not found")
	}
	if gotSub.ID != second.ID {
		t.Errorf("found in subscription %s, want %s", gotSub.ID, second.ID)
	}

	if sub, srv := store.FindServer(uuid.New()); sub != nil || srv != nil {
		t.Error("unknown server id produced a match")
	}
}
