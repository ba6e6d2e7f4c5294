package engine

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
)

func attachAndWait(t *testing.T, c *LogCollector, serverID uuid.UUID, output io.Reader) {
	t.Helper()
	done := c.Attach(serverID, output)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("log reader did not finish")
	}
}

func TestSnapshotDrainsOldestFirst(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	attachAndWait(t, c, serverID, strings.NewReader("one\ntwo\nthree\n"))

	entries := c.Snapshot(serverID, 10)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"one", "two", "three"} {
		if entries[i].Message != want {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Message, want)
		}
	}

	// A second snapshot finds nothing: drains consume.
	if again := c.Snapshot(serverID, 10); len(again) != 0 {
		t.Errorf("second snapshot returned %d entries, want 0", len(again))
	}
}

func TestSnapshotRespectsLimit(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	attachAndWait(t, c, serverID, strings.NewReader(b.String()))

	entries := c.Snapshot(serverID, 5)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	if entries[0].Message != "line 0" {
		t.Errorf("first entry: got %q, want %q", entries[0].Message, "line 0")
	}
}

func TestQueueDropsNewestWhenFull(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	var b strings.Builder
	for i := 0; i < logQueueCapacity+50; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	attachAndWait(t, c, serverID, strings.NewReader(b.String()))

	entries := c.Snapshot(serverID, logQueueCapacity+50)
	if len(entries) != logQueueCapacity {
		t.Fatalf("got %d entries, want %d", len(entries), logQueueCapacity)
	}
	// The oldest entries survive; overflow drops the newest.
	if entries[0].Message != "line 0" {
		t.Errorf("first entry: got %q, want %q", entries[0].Message, "line 0")
	}
	last := fmt.Sprintf("line %d", logQueueCapacity-1)
	if entries[len(entries)-1].Message != last {
		t.Errorf("last entry: got %q, want %q", entries[len(entries)-1].Message, last)
	}
}

func TestSinceFiltersStrictlyGreater(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	attachAndWait(t, c, serverID, strings.NewReader(""))
	queue := c.queue(serverID)

	cutoff := time.Now()
	queue <- models.LogEntry{Timestamp: cutoff.Add(-time.Second), Message: "old"}
	queue <- models.LogEntry{Timestamp: cutoff, Message: "at cutoff"}
	queue <- models.LogEntry{Timestamp: cutoff.Add(time.Second), Message: "new one"}
	queue <- models.LogEntry{Timestamp: cutoff.Add(2 * time.Second), Message: "new two"}

	entries := c.Since(serverID, cutoff.UnixMilli(), 10)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "new one" || entries[1].Message != "new two" {
		t.Errorf("got %q, %q, want the two entries past the cutoff",
			entries[0].Message, entries[1].Message)
	}
}

func TestSinceRespectsLimit(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	attachAndWait(t, c, serverID, strings.NewReader(""))
	queue := c.queue(serverID)
	for i := 0; i < 10; i++ {
		queue <- models.LogEntry{Timestamp: time.Now(), Message: fmt.Sprintf("line %d", i)}
	}

	entries := c.Since(serverID, 0, 3)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}

func TestDetachedServerYieldsNothing(t *testing.T) {
	c := NewLogCollector()
	serverID := uuid.New()

	attachAndWait(t, c, serverID, strings.NewReader("line\n"))
	c.Detach(serverID)

	if entries := c.Snapshot(serverID, 10); entries != nil {
		t.Errorf("snapshot after detach: got %d entries, want none", len(entries))
	}
	if entries := c.Since(serverID, 0, 10); entries != nil {
		t.Errorf("since after detach: got %d entries, want none", len(entries))
	}
}
