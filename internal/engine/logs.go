package engine

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const logQueueCapacity = 200

// LogCollector keeps one bounded queue of log entries per live engine
// process, fed by a dedicated reader goroutine per process. The reader's
// only synchronization point is a non-blocking send: when the queue is
// full the newest entry is dropped so the reader never stalls the process.
type LogCollector struct {
	mu     sync.Mutex
	queues map[uuid.UUID]chan models.LogEntry
}

func NewLogCollector() *LogCollector {
	return &LogCollector{
		queues: make(map[uuid.UUID]chan models.LogEntry),
	}
}

// Attach registers a queue for the server and starts the reader. The
// reader exits naturally when the process closes its output stream; it is
// never force-cancelled. The returned channel closes when the reader ends,
// which the supervisor uses to order reaping after the final read.
func (c *LogCollector) Attach(serverID uuid.UUID, output io.Reader) <-chan struct{} {
	queue := make(chan models.LogEntry, logQueueCapacity)

	c.mu.Lock()
	c.queues[serverID] = queue
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLines(serverID, output, queue)
	}()
	return done
}

func (c *LogCollector) readLines(serverID uuid.UUID, output io.Reader, queue chan models.LogEntry) {
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case queue <- models.LogEntry{Timestamp: time.Now(), Message: line}:
		default:
			// Queue full, drop the entry rather than block the reader.
		}
	}

	if err := scanner.Err(); err != nil {
		log.WithField("server", serverID).WithError(err).Debug("log reader stopped")
	}
	log.WithField("server", serverID).Debug("log reader ended")
}

// Detach stops tracking the server's queue. Entries still buffered are
// discarded; the reader drains into a dead channel until stream EOF.
func (c *LogCollector) Detach(serverID uuid.UUID) {
	c.mu.Lock()
	delete(c.queues, serverID)
	c.mu.Unlock()
}

func (c *LogCollector) queue(serverID uuid.UUID) chan models.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queues[serverID]
}

// Snapshot drains up to limit buffered entries, oldest first, without
// blocking for more.
func (c *LogCollector) Snapshot(serverID uuid.UUID, limit int) []models.LogEntry {
	queue := c.queue(serverID)
	if queue == nil {
		return nil
	}

	var entries []models.LogEntry
	for len(entries) < limit {
		select {
		case entry := <-queue:
			entries = append(entries, entry)
		default:
			return entries
		}
	}
	return entries
}

// Since drains buffered entries like Snapshot but keeps only those with a
// timestamp strictly greater than sinceMs (unix milliseconds). The caller
// derives its next cursor from the last entry returned.
func (c *LogCollector) Since(serverID uuid.UUID, sinceMs int64, limit int) []models.LogEntry {
	queue := c.queue(serverID)
	if queue == nil {
		return nil
	}

	var entries []models.LogEntry
	for len(entries) < limit {
		select {
		case entry := <-queue:
			if entry.Timestamp.UnixMilli() > sinceMs {
				entries = append(entries, entry)
			}
		default:
			return entries
		}
	}
	return entries
}
