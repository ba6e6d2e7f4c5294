package ops

import (
	"fmt"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ServerActionReply struct {
	Status
	ServerID *uuid.UUID          `json:"server_id"`
	State    models.ServerStatus `json:"status"`
	Remarks  string              `json:"remarks,omitempty"`
}

type ServerStatusReply struct {
	Status
	ServerID       *uuid.UUID          `json:"server_id"`
	State          models.ServerStatus `json:"status"`
	Remarks        string              `json:"remarks,omitempty"`
	ProcessID      *int                `json:"process_id,omitempty"`
	StartTime      string              `json:"start_time,omitempty"`
	AllocatedPorts []models.PortInfo   `json:"allocated_ports,omitempty"`
}

type TestSubscriptionReply struct {
	Status
	SubscriptionID   uuid.UUID                    `json:"subscription_id"`
	SubscriptionName string                       `json:"subscription_name"`
	TotalServers     int                          `json:"total_servers"`
	SuccessfulTests  int                          `json:"successful_tests"`
	FailedTests      int                          `json:"failed_tests"`
	Results          []*models.ConnectivityResult `json:"results"`
}

// StartServer makes the given server the single current one, applying the
// global port overrides from settings.
func (o *Ops) StartServer(subscriptionID, serverID string) ServerActionReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return ServerActionReply{Status: failure("invalid subscription id")}
	}
	srvID, ok := parseID(serverID)
	if !ok {
		return ServerActionReply{Status: failure("invalid server id")}
	}

	server := o.store.GetServer(subID, srvID)
	if server == nil {
		return ServerActionReply{Status: failure("Server not found")}
	}

	if o.sup.IsRunning(srvID) {
		return ServerActionReply{
			Status:   success(fmt.Sprintf("Server %q is already running", server.Remarks)),
			ServerID: &srvID,
			State:    models.StatusRunning,
			Remarks:  server.Remarks,
		}
	}

	settings := o.store.GetSettings()
	if err := o.sup.StartSingle(srvID, subID, server.Raw, settings.SocksPort, settings.HTTPPort); err != nil {
		if statusErr := o.store.UpdateServerStatus(subID, srvID, models.StatusError); statusErr != nil {
			zap.S().Warnw("failed to persist server status", "server", srvID, "error", statusErr)
		}
		return ServerActionReply{
			Status:   failure(err.Error()),
			ServerID: &srvID,
			State:    models.StatusError,
			Remarks:  server.Remarks,
		}
	}

	if err := o.store.UpdateServerStatus(subID, srvID, models.StatusRunning); err != nil {
		zap.S().Warnw("failed to persist server status", "server", srvID, "error", err)
	}
	return ServerActionReply{
		Status:   success(fmt.Sprintf("Server %q started successfully", server.Remarks)),
		ServerID: &srvID,
		State:    models.StatusRunning,
		Remarks:  server.Remarks,
	}
}

// StopServer stops the current server. No server running is a no-op
// success.
func (o *Ops) StopServer() ServerActionReply {
	if !o.sup.IsAnyRunning() {
		return ServerActionReply{
			Status: success("No server is currently running"),
			State:  models.StatusStopped,
		}
	}

	currentID := o.sup.CurrentID()
	if err := o.sup.StopCurrent(); err != nil {
		return ServerActionReply{Status: failure(err.Error()), ServerID: &currentID}
	}

	if sub, srv := o.store.FindServer(currentID); srv != nil {
		if err := o.store.UpdateServerStatus(sub.ID, srv.ID, models.StatusStopped); err != nil {
			zap.S().Warnw("failed to persist server status", "server", currentID, "error", err)
		}
	}
	return ServerActionReply{
		Status:   success("Server stopped successfully"),
		ServerID: &currentID,
		State:    models.StatusStopped,
	}
}

// ServerStatus reports the current server, self-healing the persisted
// status if it drifted from the live process table.
func (o *Ops) ServerStatus() ServerStatusReply {
	if !o.sup.IsAnyRunning() {
		return ServerStatusReply{
			Status: success("No server is currently running"),
			State:  models.StatusStopped,
		}
	}

	currentID := o.sup.CurrentID()
	info := o.sup.CurrentInfo()
	ports := o.sup.PortInfo(currentID)

	remarks := "Unknown"
	if sub, srv := o.store.FindServer(currentID); srv != nil {
		remarks = srv.Remarks
		if srv.Status != models.StatusRunning {
			if err := o.store.UpdateServerStatus(sub.ID, srv.ID, models.StatusRunning); err != nil {
				zap.S().Warnw("failed to persist server status", "server", currentID, "error", err)
			}
		}
	}

	reply := ServerStatusReply{
		Status:         success("Server is running"),
		ServerID:       &currentID,
		State:          models.StatusRunning,
		Remarks:        remarks,
		AllocatedPorts: ports,
	}
	if info != nil {
		reply.ProcessID = &info.PID
		reply.StartTime = info.StartTime.Format(time.RFC3339)
	}
	return reply
}

// TestSubscriptionServers probes every server in the subscription. The
// current server is stopped first so the ephemeral instances own the
// global port namespace.
func (o *Ops) TestSubscriptionServers(subscriptionID string) TestSubscriptionReply {
	subID, ok := parseID(subscriptionID)
	if !ok {
		return TestSubscriptionReply{Status: failure("invalid subscription id")}
	}

	sub := o.store.GetSubscription(subID)
	if sub == nil {
		return TestSubscriptionReply{Status: failure("Subscription not found")}
	}

	if len(sub.Servers) == 0 {
		return TestSubscriptionReply{
			Status:           success("No servers to test"),
			SubscriptionID:   subID,
			SubscriptionName: sub.Name,
			Results:          []*models.ConnectivityResult{},
		}
	}

	if o.sup.IsAnyRunning() {
		if err := o.sup.StopCurrent(); err != nil {
			zap.S().Warnw("failed to stop current server before testing", "error", err)
		}
	}

	results := o.prober.TestSubscription(sub.Servers, subID, o.testTimeout)

	successCnt := 0
	for _, r := range results {
		if r.Success {
			successCnt++
		}
	}
	failCnt := len(results) - successCnt

	return TestSubscriptionReply{
		Status: success(fmt.Sprintf("Tested %d servers: %d successful, %d failed",
			len(sub.Servers), successCnt, failCnt)),
		SubscriptionID:   subID,
		SubscriptionName: sub.Name,
		TotalServers:     len(sub.Servers),
		SuccessfulTests:  successCnt,
		FailedTests:      failCnt,
		Results:          results,
	}
}
