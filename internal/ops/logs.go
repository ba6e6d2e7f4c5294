package ops

import (
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
)

const (
	defaultSnapshotLimit = 100
	defaultBatchLimit    = 200
)

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type LogSnapshotReply struct {
	Status
	ServerID *uuid.UUID `json:"server_id"`
	Logs     []logEntry `json:"logs"`
}

type LogBatchReply struct {
	Status
	ServerID    *uuid.UUID `json:"server_id"`
	Logs        []logEntry `json:"logs"`
	NextSinceMs *int64     `json:"next_since_ms"`
}

func renderEntries(entries []models.LogEntry) []logEntry {
	out := make([]logEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, logEntry{
			Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
			Message:   entry.Message,
		})
	}
	return out
}

// LogSnapshot drains up to limit buffered entries of the current server's
// log queue.
func (o *Ops) LogSnapshot(limit int) LogSnapshotReply {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}

	currentID := o.sup.CurrentID()
	if currentID == uuid.Nil {
		return LogSnapshotReply{
			Status: success("No server is currently running"),
			Logs:   []logEntry{},
		}
	}

	entries := o.sup.Logs().Snapshot(currentID, limit)
	return LogSnapshotReply{
		Status:   success("Log snapshot retrieved successfully"),
		ServerID: &currentID,
		Logs:     renderEntries(entries),
	}
}

// LogStreamBatch supports incremental polling: entries strictly newer than
// sinceMs are returned along with the cursor for the next call, derived
// from the last entry's timestamp.
func (o *Ops) LogStreamBatch(sinceMs *int64, limit int) LogBatchReply {
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	currentID := o.sup.CurrentID()
	if currentID == uuid.Nil {
		return LogBatchReply{
			Status: success("No server is currently running"),
			Logs:   []logEntry{},
		}
	}

	var entries []models.LogEntry
	if sinceMs != nil {
		entries = o.sup.Logs().Since(currentID, *sinceMs, limit)
	} else {
		entries = o.sup.Logs().Snapshot(currentID, limit)
	}

	var nextSinceMs *int64
	if len(entries) > 0 {
		ms := entries[len(entries)-1].Timestamp.UnixMilli()
		nextSinceMs = &ms
	}

	return LogBatchReply{
		Status:      success("Log stream batch retrieved successfully"),
		ServerID:    &currentID,
		Logs:        renderEntries(entries),
		NextSinceMs: nextSinceMs,
	}
}
