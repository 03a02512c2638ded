package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*outbox.Queue, *clock) {
	t.Helper()
	s, err := store.Open(store.Config{DataDir: t.TempDir()}, "user-outbox", logging.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q, err := outbox.New(s.DB(), logging.Nop())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	c := &clock{t: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	q.SetClock(c.now)
	return q, c
}

// recordingSender records deliveries and fails while err is set.
type recordingSender struct {
	err    error
	starts []string
	ends   map[string]string
}

func (r *recordingSender) StartSession(ctx context.Context, sessionID string) error {
	if r.err != nil {
		return r.err
	}
	r.starts = append(r.starts, sessionID)
	return nil
}

func (r *recordingSender) EndSession(ctx context.Context, sessionID, hash string) error {
	if r.err != nil {
		return r.err
	}
	if r.ends == nil {
		r.ends = map[string]string{}
	}
	r.ends[sessionID] = hash
	return nil
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{40, 60 * time.Second},
		{-1, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := outbox.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestEnqueueSessionStart_Idempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	first, err := q.EnqueueSessionStart(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.EnqueueSessionStart(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("second enqueue created a new event: %s vs %s", first.ID, second.ID)
	}
	events, err := q.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Status != outbox.StatusPending || events[0].Type != outbox.SessionStart {
		t.Errorf("events = %+v", events)
	}
}

func TestEnqueueSessionEnd_UpsertsHash(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	send := &recordingSender{err: errors.New("offline")}

	if _, err := q.EnqueueSessionEnd(ctx, "s1", "aaa"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Flush(ctx, send); err != nil {
		t.Fatal(err)
	}

	c.advance(time.Second)
	ev, err := q.EnqueueSessionEnd(ctx, "s1", "bbb")
	if err != nil {
		t.Fatal(err)
	}
	if ev.TranscriptHash != "bbb" || ev.Status != outbox.StatusPending || ev.LastError != "" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Attempts != 1 {
		t.Errorf("attempts reset to %d; only the schedule should reset", ev.Attempts)
	}

	// Due immediately despite the earlier backoff.
	send.err = nil
	res, err := q.Flush(ctx, send)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 1 || send.ends["s1"] != "bbb" {
		t.Errorf("result = %+v, ends = %v", res, send.ends)
	}
}

func TestFlush_DeliversAndDeletes(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	send := &recordingSender{}

	if _, err := q.EnqueueSessionStart(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	c.advance(time.Millisecond)
	if _, err := q.EnqueueSessionEnd(ctx, "s1", "cafe"); err != nil {
		t.Fatal(err)
	}

	res, err := q.Flush(ctx, send)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 2 || res.Retried != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(send.starts) != 1 || send.ends["s1"] != "cafe" {
		t.Errorf("deliveries: starts=%v ends=%v", send.starts, send.ends)
	}
	events, _ := q.List(ctx)
	if len(events) != 0 {
		t.Errorf("delivered events left in queue: %+v", events)
	}
}

func TestFlush_BackoffThenFailed(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t)
	send := &recordingSender{err: errors.New("503")}

	if _, err := q.EnqueueSessionStart(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt < outbox.MaxAttempts; attempt++ {
		res, err := q.Flush(ctx, send)
		if err != nil {
			t.Fatal(err)
		}
		if res.Retried != 1 {
			t.Fatalf("attempt %d: result = %+v", attempt, res)
		}
		events, _ := q.List(ctx)
		ev := events[0]
		if ev.Attempts != attempt || ev.LastError != "503" {
			t.Fatalf("attempt %d: event = %+v", attempt, ev)
		}
		if want := c.t.Add(outbox.Backoff(attempt)); !ev.AvailableAt.Equal(want) {
			t.Fatalf("attempt %d: available_at = %v, want %v", attempt, ev.AvailableAt, want)
		}

		// Not due yet.
		res, _ = q.Flush(ctx, send)
		if res != (outbox.FlushResult{}) {
			t.Fatalf("attempt %d: flushed before backoff elapsed: %+v", attempt, res)
		}
		c.advance(outbox.Backoff(attempt))
	}

	res, err := q.Flush(ctx, send)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("final result = %+v", res)
	}
	events, _ := q.List(ctx)
	if events[0].Status != outbox.StatusFailed || events[0].Attempts != outbox.MaxAttempts {
		t.Errorf("event = %+v", events[0])
	}

	// Failed events are parked.
	c.advance(time.Hour)
	send.err = nil
	res, _ = q.Flush(ctx, send)
	if res.Delivered != 0 {
		t.Error("failed event was redelivered")
	}
}

func TestFlush_EndWithoutHashIsRetried(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	if _, err := q.EnqueueSessionEnd(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	res, err := q.Flush(ctx, &recordingSender{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 1 {
		t.Errorf("result = %+v", res)
	}
	events, _ := q.List(ctx)
	if events[0].LastError != "missing transcript hash" {
		t.Errorf("last_error = %q", events[0].LastError)
	}
}
