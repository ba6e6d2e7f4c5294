package ops

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"raygate/internal/engine"
	"raygate/internal/models"
	"raygate/internal/storage"
	"raygate/internal/subscription"

	"github.com/google/uuid"
)

const stubEngineScript = "#!/bin/sh\ncat >/dev/null\necho \"engine ready\"\nexec sleep 60\n"

func newOpsStack(t *testing.T) (*Ops, *storage.Store, *engine.Supervisor) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub engines are shell scripts")
	}

	appStorage, err := storage.NewAppStorageAt(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	store, err := storage.NewStore(appStorage)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	stubPath := filepath.Join(t.TempDir(), "xray-stub")
	if err := os.WriteFile(stubPath, []byte(stubEngineScript), 0o755); err != nil {
		t.Fatalf("write stub engine: %v", err)
	}
	settings := store.GetSettings()
	settings.EngineBinary = stubPath
	if err := store.UpdateSettings(settings); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	sup := engine.NewSupervisor(store, "")
	t.Cleanup(sup.ShutdownAll)

	prober := engine.NewProber(sup, engine.NewPortAllocator())
	svc := subscription.NewService(2 * time.Second)

	return New(store, sup, prober, svc, time.Second), store, sup
}

func seedSubscription(t *testing.T, store *storage.Store) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:   uuid.New(),
		Name: "seeded",
		URL:  "https://example.com/sub/v2ray-json",
		Servers: []*models.ServerSpec{
			{
				ID:      uuid.New(),
				Remarks: "alpha",
				Raw: map[string]any{
					"inbounds": []any{
						map[string]any{"tag": "socks-in", "protocol": "socks", "port": 10808},
					},
				},
				Status: models.StatusStopped,
			},
		},
	}
	if err := store.AddSubscription(sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func TestStopServerWithNothingRunning(t *testing.T) {
	o, _, _ := newOpsStack(t)

	reply := o.StopServer()
	if !reply.Success {
		t.Fatalf("stop as no-op failed: %s", reply.Error)
	}
	if reply.State != models.StatusStopped {
		t.Errorf("state = %q, want stopped", reply.State)
	}
	if reply.ServerID != nil {
		t.Error("no-op stop reported a server id")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	o, store, sup := newOpsStack(t)
	sub := seedSubscription(t, store)
	srv := sub.Servers[0]

	reply := o.StartServer(sub.ID.String(), srv.ID.String())
	if !reply.Success {
		t.Fatalf("start failed: %s", reply.Error)
	}
	if reply.State != models.StatusRunning {
		t.Errorf("state = %q, want running", reply.State)
	}
	if !sup.IsRunning(srv.ID) {
		t.Fatal("supervisor does not report the server running")
	}
	if got := store.GetServer(sub.ID, srv.ID).Status; got != models.StatusRunning {
		t.Errorf("persisted status = %q, want running", got)
	}

	// Starting again is an idempotent success.
	again := o.StartServer(sub.ID.String(), srv.ID.String())
	if !again.Success || !strings.Contains(again.Message, "already running") {
		t.Errorf("second start: %+v", again.Status)
	}

	stop := o.StopServer()
	if !stop.Success {
		t.Fatalf("stop failed: %s", stop.Error)
	}
	if sup.IsAnyRunning() {
		t.Error("a server is still running after stop")
	}
	if got := store.GetServer(sub.ID, srv.ID).Status; got != models.StatusStopped {
		t.Errorf("persisted status = %q, want stopped", got)
	}
}

func TestStartServerBadInput(t *testing.T) {
	o, store, _ := newOpsStack(t)
	sub := seedSubscription(t, store)

	if reply := o.StartServer("not-a-uuid", uuid.NewString()); reply.Success {
		t.Error("bad subscription id accepted")
	}
	if reply := o.StartServer(sub.ID.String(), "not-a-uuid"); reply.Success {
		t.Error("bad server id accepted")
	}
	if reply := o.StartServer(sub.ID.String(), uuid.NewString()); reply.Success {
		t.Error("unknown server accepted")
	}
}

func TestServerStatusReportsCurrent(t *testing.T) {
	o, store, _ := newOpsStack(t)

	idle := o.ServerStatus()
	if !idle.Success || idle.State != models.StatusStopped {
		t.Fatalf("idle status: %+v", idle)
	}

	sub := seedSubscription(t, store)
	srv := sub.Servers[0]
	if reply := o.StartServer(sub.ID.String(), srv.ID.String()); !reply.Success {
		t.Fatalf("start: %s", reply.Error)
	}

	running := o.ServerStatus()
	if running.State != models.StatusRunning {
		t.Fatalf("state = %q, want running", running.State)
	}
	if running.ServerID == nil || *running.ServerID != srv.ID {
		t.Error("status does not name the current server")
	}
	if running.Remarks != "alpha" {
		t.Errorf("remarks = %q, want alpha", running.Remarks)
	}
	if running.ProcessID == nil || *running.ProcessID <= 0 {
		t.Error("status carries no process id")
	}
	if running.StartTime == "" {
		t.Error("status carries no start time")
	}
}

func TestLogSnapshotWithoutServer(t *testing.T) {
	o, _, _ := newOpsStack(t)

	reply := o.LogSnapshot(0)
	if !reply.Success {
		t.Fatalf("snapshot failed: %s", reply.Error)
	}
	if len(reply.Logs) != 0 {
		t.Errorf("got %d log entries, want 0", len(reply.Logs))
	}
	if reply.ServerID != nil {
		t.Error("snapshot without server reported a server id")
	}
}

func TestLogStreamBatchCursor(t *testing.T) {
	o, store, _ := newOpsStack(t)
	sub := seedSubscription(t, store)
	srv := sub.Servers[0]

	if reply := o.StartServer(sub.ID.String(), srv.ID.String()); !reply.Success {
		t.Fatalf("start: %s", reply.Error)
	}
	time.Sleep(200 * time.Millisecond)

	first := o.LogStreamBatch(nil, 50)
	if !first.Success {
		t.Fatalf("first batch: %s", first.Error)
	}
	if len(first.Logs) == 0 {
		t.Fatal("no log entries from a freshly started engine")
	}
	if first.NextSinceMs == nil {
		t.Fatal("first batch carries no cursor")
	}

	// The queue drained into the first batch, so polling from the cursor
	// finds nothing new.
	second := o.LogStreamBatch(first.NextSinceMs, 50)
	if !second.Success {
		t.Fatalf("second batch: %s", second.Error)
	}
	if len(second.Logs) != 0 {
		t.Errorf("second batch returned %d entries, want 0", len(second.Logs))
	}
	if second.NextSinceMs != nil {
		t.Error("empty batch advanced the cursor")
	}
}

func TestUpdateSettingsPatch(t *testing.T) {
	o, store, _ := newOpsStack(t)

	port := 2080
	reply := o.UpdateSettings(SettingsPatch{SocksPort: &port})
	if !reply.Success {
		t.Fatalf("update: %s", reply.Error)
	}
	if reply.Settings.SocksPort == nil || *reply.Settings.SocksPort != port {
		t.Errorf("socks port = %v, want %d", reply.Settings.SocksPort, port)
	}

	// Zero clears the override.
	zero := 0
	reply = o.UpdateSettings(SettingsPatch{SocksPort: &zero})
	if !reply.Success {
		t.Fatalf("clear: %s", reply.Error)
	}
	if reply.Settings.SocksPort != nil {
		t.Errorf("socks port = %v, want cleared", *reply.Settings.SocksPort)
	}

	// Invalid patches are rejected and never persisted.
	same := 3128
	bad := o.UpdateSettings(SettingsPatch{SocksPort: &same, HTTPPort: &same})
	if bad.Success {
		t.Fatal("identical socks and http ports accepted")
	}
	if store.GetSettings().SocksPort != nil {
		t.Error("rejected patch leaked into the store")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	o, _, _ := newOpsStack(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"remarks":"alpha"},{"remarks":"beta"}]`))
	}))
	t.Cleanup(ts.Close)

	created := o.CreateSubscription("lifecycle", ts.URL)
	if !created.Success {
		t.Fatalf("create: %s", created.Error)
	}
	if created.ServerCount != 2 || len(created.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", created.ServerCount)
	}

	list := o.ListSubscriptions()
	if len(list.Subscriptions) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(list.Subscriptions))
	}

	subID := created.SubscriptionSummary.ID.String()

	renamed := o.RenameSubscription(subID, "renamed")
	if !renamed.Success {
		t.Fatalf("rename: %s", renamed.Error)
	}
	if got := o.GetSubscription(subID); got.Name != "renamed" {
		t.Errorf("name = %q after rename", got.Name)
	}

	refreshed := o.RefreshSubscription(subID)
	if !refreshed.Success {
		t.Fatalf("refresh: %s", refreshed.Error)
	}

	deleted := o.DeleteSubscription(subID)
	if !deleted.Success {
		t.Fatalf("delete: %s", deleted.Error)
	}
	if got := o.GetSubscription(subID); got.Success {
		t.Error("subscription still retrievable after delete")
	}

	if missing := o.CreateSubscription("", ts.URL); missing.Success {
		t.Error("empty name accepted")
	}
}
