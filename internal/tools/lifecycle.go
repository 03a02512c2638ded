package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/outbox"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/transcript"
	"github.com/lumenhq/lumen/internal/vault"
)

// SystemPromptVersion is recorded on transcripts started without one.
const SystemPromptVersion = "coach-v1"

// StartParams carries the optional session metadata supplied at start.
type StartParams struct {
	Timezone            string
	LocaleHint          string
	SystemPromptVersion string
}

// Sessions runs the coaching session lifecycle of one user: start or
// resume, append, end.
type Sessions struct {
	userID string
	vault  *vault.Session
	store  *store.Store
	rec    *transcript.Recorder
	queue  *outbox.Queue
	log    logging.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewSessions wires the lifecycle for userID.
func NewSessions(userID string, v *vault.Session, st *store.Store, rec *transcript.Recorder, q *outbox.Queue, log logging.Logger) *Sessions {
	return &Sessions{userID: userID, vault: v, store: st, rec: rec, queue: q, log: log, now: time.Now}
}

// UserID returns the user the lifecycle is bound to.
func (s *Sessions) UserID() string { return s.userID }

func (s *Sessions) requireUnlocked() error {
	if !s.vault.IsUnlocked() {
		return lerrors.ErrVaultLocked
	}
	s.vault.Touch()
	return nil
}

// Start begins a new session, or resumes the user's open session when one
// exists. resumed reports which happened.
func (s *Sessions) Start(ctx context.Context, p StartParams) (t *store.Transcript, resumed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, false, err
	}

	active, err := s.store.ActiveTranscript(ctx, s.userID)
	switch {
	case err == nil:
		if err := s.rec.Begin(ctx, active.SessionID); err != nil {
			return nil, false, err
		}
		s.log.Infof("resumed session %s (#%d)", active.SessionID, active.SessionNumber)
		return active, true, nil
	case !errors.Is(err, lerrors.ErrNotFound):
		return nil, false, err
	}

	n, err := s.store.NextSessionNumber(ctx, s.userID)
	if err != nil {
		return nil, false, err
	}
	if p.SystemPromptVersion == "" {
		p.SystemPromptVersion = SystemPromptVersion
	}
	now := s.now().UTC()
	t = &store.Transcript{
		SessionID:           uuid.NewString(),
		UserID:              s.userID,
		StartedAt:           now,
		SessionNumber:       n,
		Timezone:            p.Timezone,
		LocaleHint:          p.LocaleHint,
		SystemPromptVersion: p.SystemPromptVersion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.SaveTranscript(ctx, *t); err != nil {
		return nil, false, err
	}
	if _, err := s.queue.EnqueueSessionStart(ctx, t.SessionID); err != nil {
		return nil, false, err
	}
	if err := s.rec.Begin(ctx, t.SessionID); err != nil {
		return nil, false, err
	}
	s.log.Infof("started session %s (#%d)", t.SessionID, t.SessionNumber)
	return t, false, nil
}

// Append records messages in the active session and writes them out as one
// chunk.
func (s *Sessions) Append(ctx context.Context, msgs ...transcript.Message) ([]transcript.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	if s.rec.SessionID() == "" {
		return nil, errors.New("no active session: call session_start first")
	}
	out, err := s.rec.Add(msgs...)
	if err != nil {
		return nil, err
	}
	if err := s.rec.Flush(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// EndResult describes a closed session.
type EndResult struct {
	Transcript     *store.Transcript
	TranscriptHash string
}

// End flushes and closes the active session and queues the end event with
// the transcript hash. A session with no messages queues no end event.
func (s *Sessions) End(ctx context.Context) (*EndResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	sid := s.rec.SessionID()
	if sid == "" {
		active, err := s.store.ActiveTranscript(ctx, s.userID)
		if err != nil {
			if errors.Is(err, lerrors.ErrNotFound) {
				return nil, errors.New("no active session to end")
			}
			return nil, err
		}
		sid = active.SessionID
	}
	if err := s.rec.End(ctx); err != nil {
		return nil, err
	}
	if err := s.store.EndTranscript(ctx, sid, s.now().UTC()); err != nil {
		return nil, err
	}
	hash, err := s.store.TranscriptHash(ctx, sid)
	if err != nil {
		return nil, err
	}
	if hash != "" {
		if _, err := s.queue.EnqueueSessionEnd(ctx, sid, hash); err != nil {
			return nil, fmt.Errorf("queue end of %s: %w", sid, err)
		}
	} else {
		s.log.Warnf("session %s ended with no messages; no end event queued", sid)
	}
	t, err := s.store.GetTranscript(ctx, sid)
	if err != nil {
		return nil, err
	}
	s.log.Infof("ended session %s", sid)
	return &EndResult{Transcript: t, TranscriptHash: hash}, nil
}
