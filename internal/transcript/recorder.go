package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
)

// ChunkWriter persists encrypted chunks for a session.
type ChunkWriter interface {
	// ChunkCount returns how many chunks the session already has.
	ChunkCount(ctx context.Context, sessionID string) (int, error)
	// AppendMessages encrypts msgs and stores them at chunk index.
	AppendMessages(ctx context.Context, sessionID string, index int, msgs []Message) error
}

// LockNotifier runs hooks before the vault key is cleared.
type LockNotifier interface {
	OnLock(name string, fn func(context.Context) error) (remove func())
}

// Recorder buffers the messages of one active session and writes them out
// as gap-free, strictly increasing chunks.
type Recorder struct {
	w   ChunkWriter
	log logging.Logger
	now func() time.Time

	mu        sync.Mutex
	sessionID string
	next      int
	pending   []Message
}

// NewRecorder creates a Recorder with no active session.
func NewRecorder(w ChunkWriter, log logging.Logger) *Recorder {
	return &Recorder{w: w, log: log, now: time.Now}
}

// Attach registers Flush as a pre-lock hook so buffered messages reach disk
// while the key is still available.
func (r *Recorder) Attach(n LockNotifier) (remove func()) {
	return n.OnLock("transcript-recorder", r.Flush)
}

// Begin makes sessionID the active session. Chunk numbering resumes after
// the chunks already stored for it. Anything buffered for a previous session
// is flushed first.
func (r *Recorder) Begin(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID == sessionID {
		return nil
	}
	if err := r.flushLocked(ctx); err != nil {
		return err
	}
	n, err := r.w.ChunkCount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("transcript: resuming %s: %w", sessionID, err)
	}
	r.sessionID = sessionID
	r.next = n
	r.pending = nil
	return nil
}

// Add buffers messages for the active session. Missing ids and timestamps
// are filled in. The returned slice holds the messages as buffered.
func (r *Recorder) Add(msgs ...Message) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID == "" {
		return nil, errors.New("transcript: no active session")
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("transcript: unknown role %q", m.Role)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = r.now()
		}
		m.Timestamp = m.Timestamp.UTC().Truncate(time.Millisecond)
		out = append(out, m)
	}
	r.pending = append(r.pending, out...)
	return out, nil
}

// Flush writes buffered messages as the next chunk. It is a no-op when
// nothing is buffered.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	if r.sessionID == "" || len(r.pending) == 0 {
		return nil
	}
	err := r.w.AppendMessages(ctx, r.sessionID, r.next, r.pending)
	if errors.Is(err, lerrors.ErrChunkExists) {
		// Another writer got there first; renumber once from the stored count.
		n, cerr := r.w.ChunkCount(ctx, r.sessionID)
		if cerr != nil {
			return fmt.Errorf("transcript: recounting chunks: %w", cerr)
		}
		r.log.Warnf("chunk %d of %s already stored, retrying at %d", r.next, r.sessionID, n)
		r.next = n
		err = r.w.AppendMessages(ctx, r.sessionID, r.next, r.pending)
	}
	if err != nil {
		return fmt.Errorf("transcript: flushing chunk %d: %w", r.next, err)
	}
	r.log.Debugf("flushed %d messages to chunk %d of %s", len(r.pending), r.next, r.sessionID)
	r.next++
	r.pending = nil
	return nil
}

// End flushes and detaches the active session.
func (r *Recorder) End(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(ctx); err != nil {
		return err
	}
	r.sessionID = ""
	r.next = 0
	return nil
}

// SessionID returns the active session, or "" when idle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Pending returns the number of buffered, unwritten messages.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// NextIndex returns the chunk index the next flush will use.
func (r *Recorder) NextIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
