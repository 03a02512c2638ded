// Package outbox queues session lifecycle events for delivery to the remote
// session API. Events live in the scope database so they survive restarts;
// delivery is retried with capped exponential backoff.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhq/lumen/internal/logging"
)

const (
	// MaxAttempts is the number of failed deliveries after which an event
	// is parked as failed.
	MaxAttempts = 6
	baseDelay   = 2 * time.Second
	maxDelay    = 60 * time.Second
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// EventType names a lifecycle event.
type EventType string

const (
	SessionStart EventType = "session_start"
	SessionEnd   EventType = "session_end"
)

// Status of a queued event.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Event is one queued lifecycle notification.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	SessionID      string    `json:"session_id"`
	TranscriptHash string    `json:"transcript_hash,omitempty"`
	Status         Status    `json:"status"`
	Attempts       int       `json:"attempts"`
	AvailableAt    time.Time `json:"available_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Sender delivers events to the remote session API.
type Sender interface {
	StartSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID, transcriptHash string) error
}

// FlushResult counts what one Flush did.
type FlushResult struct {
	Delivered int
	Retried   int
	Failed    int
}

// Queue is the persistent outbox of one scope.
type Queue struct {
	db  *sql.DB
	log logging.Logger
	now func() time.Time

	flushMu sync.Mutex
}

// New returns a Queue over db, creating its table if needed.
func New(db *sql.DB, log logging.Logger) (*Queue, error) {
	q := &Queue{db: db, log: log, now: time.Now}
	if err := q.migrate(); err != nil {
		return nil, fmt.Errorf("outbox: migration: %w", err)
	}
	return q, nil
}

func (q *Queue) migrate() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_outbox (
			id              TEXT    PRIMARY KEY,
			type            TEXT    NOT NULL,
			session_id      TEXT    NOT NULL,
			transcript_hash TEXT,
			status          TEXT    NOT NULL DEFAULT 'pending',
			attempts        INTEGER NOT NULL DEFAULT 0,
			available_at    TEXT    NOT NULL,
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL,
			last_error      TEXT,
			UNIQUE (type, session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_outbox_due ON session_outbox(status, available_at);
	`)
	return err
}

// Backoff returns the delay before retry number attempts.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 16 {
		return maxDelay
	}
	return min(maxDelay, baseDelay<<attempts)
}

// EnqueueSessionStart queues a start event. It is idempotent: an existing
// start event for the session is returned unchanged.
func (q *Queue) EnqueueSessionStart(ctx context.Context, sessionID string) (*Event, error) {
	if existing, err := q.find(ctx, SessionStart, sessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	ev := q.newEvent(SessionStart, sessionID, "")
	if err := q.insert(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// EnqueueSessionEnd queues an end event carrying the final transcript hash.
// An existing end event takes the new hash and becomes pending and due now.
func (q *Queue) EnqueueSessionEnd(ctx context.Context, sessionID, transcriptHash string) (*Event, error) {
	existing, err := q.find(ctx, SessionEnd, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		ev := q.newEvent(SessionEnd, sessionID, transcriptHash)
		if err := q.insert(ctx, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	if err != nil {
		return nil, err
	}

	now := q.now().UTC()
	existing.TranscriptHash = transcriptHash
	existing.Status = StatusPending
	existing.AvailableAt = now
	existing.LastError = ""
	existing.UpdatedAt = now
	if err := q.update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Flush delivers every pending event that is due, oldest first. Delivered
// events are deleted; failures are rescheduled with Backoff, and parked as
// failed after MaxAttempts. Concurrent flushes are serialized.
func (q *Queue) Flush(ctx context.Context, sender Sender) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var res FlushResult
	due, err := q.due(ctx)
	if err != nil {
		return res, err
	}
	for _, ev := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sendErr := deliver(ctx, sender, ev)
		if sendErr == nil {
			if _, err := q.db.ExecContext(ctx, `DELETE FROM session_outbox WHERE id = ?`, ev.ID); err != nil {
				return res, fmt.Errorf("outbox: delete %s: %w", ev.ID, err)
			}
			q.log.Debugf("delivered %s for %s", ev.Type, ev.SessionID)
			res.Delivered++
			continue
		}

		ev.Attempts++
		ev.LastError = sendErr.Error()
		ev.UpdatedAt = q.now().UTC()
		if ev.Attempts >= MaxAttempts {
			ev.Status = StatusFailed
			res.Failed++
			q.log.Warnf("giving up on %s for %s after %d attempts: %v", ev.Type, ev.SessionID, ev.Attempts, sendErr)
		} else {
			ev.AvailableAt = ev.UpdatedAt.Add(Backoff(ev.Attempts))
			res.Retried++
			q.log.Debugf("retrying %s for %s at %s: %v", ev.Type, ev.SessionID, ev.AvailableAt.Format(time.RFC3339), sendErr)
		}
		if err := q.update(ctx, &ev); err != nil {
			return res, err
		}
	}
	return res, nil
}

func deliver(ctx context.Context, sender Sender, ev Event) error {
	switch ev.Type {
	case SessionStart:
		return sender.StartSession(ctx, ev.SessionID)
	case SessionEnd:
		if ev.TranscriptHash == "" {
			return errors.New("missing transcript hash")
		}
		return sender.EndSession(ctx, ev.SessionID, ev.TranscriptHash)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// List returns every queued event, oldest first.
func (q *Queue) List(ctx context.Context) ([]Event, error) {
	return q.query(ctx, `SELECT `+eventColumns+` FROM session_outbox ORDER BY created_at, id`)
}

// ─── Persistence ─────────────────────────────────────────────────────────────

const eventColumns = `id, type, session_id, transcript_hash, status, attempts,
	available_at, created_at, updated_at, last_error`

func (q *Queue) newEvent(typ EventType, sessionID, hash string) *Event {
	now := q.now().UTC()
	return &Event{
		ID:             uuid.NewString(),
		Type:           typ,
		SessionID:      sessionID,
		TranscriptHash: hash,
		Status:         StatusPending,
		AvailableAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (q *Queue) insert(ctx context.Context, ev *Event) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO session_outbox (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.SessionID, nullable(ev.TranscriptHash), string(ev.Status), ev.Attempts,
		ev.AvailableAt.Format(timeLayout), ev.CreatedAt.Format(timeLayout), ev.UpdatedAt.Format(timeLayout),
		nullable(ev.LastError))
	if err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", ev.Type, err)
	}
	return nil
}

func (q *Queue) update(ctx context.Context, ev *Event) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE session_outbox
		SET transcript_hash = ?, status = ?, attempts = ?, available_at = ?, updated_at = ?, last_error = ?
		WHERE id = ?`,
		nullable(ev.TranscriptHash), string(ev.Status), ev.Attempts,
		ev.AvailableAt.UTC().Format(timeLayout), ev.UpdatedAt.UTC().Format(timeLayout),
		nullable(ev.LastError), ev.ID)
	if err != nil {
		return fmt.Errorf("outbox: update %s: %w", ev.ID, err)
	}
	return nil
}

func (q *Queue) find(ctx context.Context, typ EventType, sessionID string) (*Event, error) {
	events, err := q.query(ctx, `SELECT `+eventColumns+` FROM session_outbox WHERE type = ? AND session_id = ?`, string(typ), sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, sql.ErrNoRows
	}
	return &events[0], nil
}

func (q *Queue) due(ctx context.Context) ([]Event, error) {
	return q.query(ctx, `
		SELECT `+eventColumns+` FROM session_outbox
		WHERE status = 'pending' AND available_at <= ?
		ORDER BY created_at, id`, q.now().UTC().Format(timeLayout))
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev                              Event
			typ, status                     string
			hash, lastErr                   sql.NullString
			availableAt, createdAt, updated string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.SessionID, &hash, &status, &ev.Attempts,
			&availableAt, &createdAt, &updated, &lastErr); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		ev.Type, ev.Status = EventType(typ), Status(status)
		ev.TranscriptHash, ev.LastError = hash.String, lastErr.String
		for _, f := range []struct {
			dst *time.Time
			raw string
		}{{&ev.AvailableAt, availableAt}, {&ev.CreatedAt, createdAt}, {&ev.UpdatedAt, updated}} {
			t, err := time.Parse(time.RFC3339Nano, f.raw)
			if err != nil {
				return nil, fmt.Errorf("outbox: bad timestamp %q: %w", f.raw, err)
			}
			*f.dst = t.UTC()
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
