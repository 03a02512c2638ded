package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lumenhq/lumen/internal/crypto"
	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/transcript"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Transcript is the plaintext metadata of one coaching session. Content
// lives in encrypted chunks.
type Transcript struct {
	SessionID           string     `json:"session_id"`
	UserID              string     `json:"user_id"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	SessionNumber       int        `json:"session_number"`
	Timezone            string     `json:"timezone,omitempty"`
	LocaleHint          string     `json:"locale_hint,omitempty"`
	SystemPromptVersion string     `json:"system_prompt_version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Ended reports whether the session has been closed.
func (t Transcript) Ended() bool { return t.EndedAt != nil }

// Chunk is one encrypted, append-only slice of a session's messages.
type Chunk struct {
	SessionID     string
	Index         int
	EncryptedBlob []byte
	Header        crypto.Header
	// RawHeader is the stored header text. When set, OpenChunk parses it
	// instead of trusting Header.
	RawHeader     string
	IntegrityHash []byte
	CreatedAt     time.Time
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const transcriptColumns = `session_id, user_id, started_at, ended_at, session_number,
	timezone, locale_hint, system_prompt_version, created_at, updated_at`

func scanTranscript(row interface{ Scan(...any) error }) (*Transcript, error) {
	var (
		t                    Transcript
		startedAt, createdAt string
		updatedAt            string
		endedAt              sql.NullString
		number               sql.NullInt64
		tz, locale           sql.NullString
	)
	if err := row.Scan(&t.SessionID, &t.UserID, &startedAt, &endedAt, &number,
		&tz, &locale, &t.SystemPromptVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if t.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	t.SessionNumber = int(number.Int64)
	t.Timezone = tz.String
	t.LocaleHint = locale.String
	return &t, nil
}

// ─── Transcripts ─────────────────────────────────────────────────────────────

// SaveTranscript inserts or updates session metadata. An already recorded
// ended_at is never overwritten.
func (s *Store) SaveTranscript(ctx context.Context, t Transcript) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	var endedAt sql.NullString
	if t.EndedAt != nil {
		endedAt = sql.NullString{String: formatTime(*t.EndedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_transcripts (`+transcriptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at              = COALESCE(session_transcripts.ended_at, excluded.ended_at),
			session_number        = excluded.session_number,
			timezone              = excluded.timezone,
			locale_hint           = excluded.locale_hint,
			system_prompt_version = excluded.system_prompt_version,
			updated_at            = excluded.updated_at`,
		t.SessionID, t.UserID, formatTime(t.StartedAt), endedAt, t.SessionNumber,
		nullString(t.Timezone), nullString(t.LocaleHint), t.SystemPromptVersion,
		formatTime(t.CreatedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("store: save transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the metadata of a session.
func (s *Store) GetTranscript(ctx context.Context, sessionID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transcriptColumns+` FROM session_transcripts WHERE session_id = ?`, sessionID)
	t, err := scanTranscript(row)
	if err != nil {
		return nil, notFound(err, "transcript")
	}
	return t, nil
}

// ListTranscripts returns every session of userID, newest first by start.
func (s *Store) ListTranscripts(ctx context.Context, userID string) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transcriptColumns+` FROM session_transcripts
		WHERE user_id = ?
		ORDER BY started_at DESC, session_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list transcripts: %w", err)
		}
		results = append(results, *t)
	}
	return results, rows.Err()
}

// ActiveTranscript returns the newest session of userID that has not ended.
func (s *Store) ActiveTranscript(ctx context.Context, userID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transcriptColumns+` FROM session_transcripts
		WHERE user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, userID)
	t, err := scanTranscript(row)
	if err != nil {
		return nil, notFound(err, "active transcript")
	}
	return t, nil
}

// NextSessionNumber returns the number of completed sessions plus one.
func (s *Store) NextSessionNumber(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_transcripts WHERE user_id = ? AND ended_at IS NOT NULL`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return n + 1, nil
}

// EndTranscript records the end of a session. ended_at is set once; closing
// an ended session fails with ErrSessionEnded.
func (s *Store) EndTranscript(ctx context.Context, sessionID string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_transcripts SET ended_at = ?, updated_at = ?
		WHERE session_id = ? AND ended_at IS NULL`,
		formatTime(endedAt), s.timestamp(), sessionID)
	if err != nil {
		return fmt.Errorf("store: end transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetTranscript(ctx, sessionID); err != nil {
		return err
	}
	return fmt.Errorf("store: end transcript %s: %w", sessionID, lerrors.ErrSessionEnded)
}

// ─── Chunks ──────────────────────────────────────────────────────────────────

// SaveTranscriptChunk appends a pre-sealed chunk. Writing an index that
// already exists fails with ErrChunkExists.
func (s *Store) SaveTranscriptChunk(ctx context.Context, c Chunk) error {
	return s.insertChunk(ctx, s.db, c)
}

func (s *Store) insertChunk(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, c Chunk) error {
	header, err := crypto.MarshalHeader(c.Header)
	if err != nil {
		return fmt.Errorf("store: encode chunk header: %w", err)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO session_transcript_chunks (session_id, chunk_index, encrypted_blob, encryption_header, integrity_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Index, c.EncryptedBlob, string(header), c.IntegrityHash, formatTime(created))
	if isUniqueViolation(err) {
		return fmt.Errorf("store: chunk %s/%d: %w", c.SessionID, c.Index, lerrors.ErrChunkExists)
	}
	if err != nil {
		return fmt.Errorf("store: save chunk: %w", err)
	}
	return nil
}

// AppendMessages encodes, encrypts and stores msgs as chunk index of a
// session, and bumps the session's updated_at. Sessions that have ended
// accept no more chunks.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, index int, msgs []transcript.Message) error {
	payload, err := transcript.Serialize(msgs)
	if err != nil {
		return err
	}
	kh, err := s.keyHolder()
	if err != nil {
		return err
	}
	sealed, err := sealBytes(kh, payload)
	if err != nil {
		return fmt.Errorf("store: seal chunk: %w", err)
	}
	header, err := crypto.ParseHeader([]byte(sealed.header))
	if err != nil {
		return err
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var endedAt sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT ended_at FROM session_transcripts WHERE session_id = ?`, sessionID).Scan(&endedAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: read transcript: %w", err)
		}
		if endedAt.Valid {
			return fmt.Errorf("store: append to %s: %w", sessionID, lerrors.ErrSessionEnded)
		}
		if err := s.insertChunk(ctx, tx, Chunk{
			SessionID:     sessionID,
			Index:         index,
			EncryptedBlob: sealed.blob,
			Header:        header,
			IntegrityHash: sealed.hash,
		}); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE session_transcripts SET updated_at = ? WHERE session_id = ?`, s.timestamp(), sessionID)
		return err
	})
}

// ChunkCount returns the number of chunks stored for a session.
func (s *Store) ChunkCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_transcript_chunks WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}

// ListTranscriptChunks returns a session's chunks in chunk_index order,
// whatever order they were written in. A chunk whose header does not parse
// is still listed; OpenChunk reports it.
func (s *Store) ListTranscriptChunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, encrypted_blob, encryption_header, integrity_hash, created_at
		FROM session_transcript_chunks WHERE session_id = ?
		ORDER BY chunk_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		c := Chunk{SessionID: sessionID}
		var header, createdAt string
		if err := rows.Scan(&c.Index, &c.EncryptedBlob, &header, &c.IntegrityHash, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list chunks: %w", err)
		}
		c.RawHeader = header
		if h, err := crypto.ParseHeader([]byte(header)); err == nil {
			c.Header = h
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// OpenChunk verifies and decrypts one chunk.
func (s *Store) OpenChunk(c Chunk) ([]transcript.Message, error) {
	kh, err := s.keyHolder()
	if err != nil {
		return nil, err
	}
	key, err := kh.Key()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	header := c.Header
	if c.RawHeader != "" {
		if header, err = crypto.ParseHeader([]byte(c.RawHeader)); err != nil {
			return nil, fmt.Errorf("store: chunk %s/%d header: %v: %w", c.SessionID, c.Index, err, lerrors.ErrIntegrity)
		}
	}
	plaintext, err := crypto.Open(crypto.Sealed{Ciphertext: c.EncryptedBlob, Header: header, Hash: c.IntegrityHash}, key)
	if err != nil {
		return nil, fmt.Errorf("store: chunk %s/%d: %w", c.SessionID, c.Index, err)
	}
	return transcript.Deserialize(plaintext)
}

// ReadTranscriptMessages decrypts every chunk of a session and returns the
// messages in order. Any unreadable chunk fails the whole session.
func (s *Store) ReadTranscriptMessages(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	chunks, err := s.ListTranscriptChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var msgs []transcript.Message
	for _, c := range chunks {
		part, err := s.OpenChunk(c)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, part...)
	}
	return msgs, nil
}

// TranscriptHash returns the hex integrity hash of the session's last chunk,
// or "" when the session has no chunks.
func (s *Store) TranscriptHash(ctx context.Context, sessionID string) (string, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT integrity_hash FROM session_transcript_chunks
		WHERE session_id = ? ORDER BY chunk_index DESC LIMIT 1`, sessionID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: transcript hash: %w", err)
	}
	return hex.EncodeToString(hash), nil
}
