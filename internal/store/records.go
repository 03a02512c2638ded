package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lerrors "github.com/lumenhq/lumen/internal/errors"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Profile is what the coach knows about the user.
type Profile struct {
	UserID           string    `json:"user_id"`
	PreferredName    *string   `json:"preferred_name"`
	Goals            []string  `json:"goals"`
	RecurringThemes  []string  `json:"recurring_themes"`
	CoachPreferences []string  `json:"coach_preferences"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

// Summary is the coach's closing summary of one session.
type Summary struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	SummaryText       string    `json:"summary_text"`
	RecognitionMoment *string   `json:"recognition_moment"`
	ActionSteps       []string  `json:"action_steps"`
	OpenThreads       []string  `json:"open_threads"`
	CoachNotes        *string   `json:"coach_notes"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// ProviderKey is an API key for a model provider.
type ProviderKey struct {
	Provider  string    `json:"provider"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Arc is the evolving per-user markdown document.
type Arc struct {
	UserID    string    `json:"user_id"`
	Markdown  string    `json:"arc_markdown"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Notebook is the immutable markdown written for one completed session.
type Notebook struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Markdown  string    `json:"notebook_markdown"`
	CreatedAt time.Time `json:"-"`
}

// scanSealed reads the trailing encrypted columns shared by every record
// table: blob, header, hash, then the given timestamp columns.
func scanSealed(row interface{ Scan(...any) error }, lead []any, times ...*time.Time) (sealedRow, error) {
	var (
		r   sealedRow
		raw = make([]string, len(times))
	)
	dest := append([]any{}, lead...)
	dest = append(dest, &r.blob, &r.header, &r.hash)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := row.Scan(dest...); err != nil {
		return sealedRow{}, err
	}
	for i, v := range raw {
		t, err := parseTime(v)
		if err != nil {
			return sealedRow{}, err
		}
		*times[i] = t
	}
	return r, nil
}

// ─── Profiles ────────────────────────────────────────────────────────────────

// GetProfile returns the decrypted profile of userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	row := s.db.QueryRowContext(ctx, `
		SELECT encrypted_blob, encryption_header, integrity_hash, created_at, updated_at
		FROM user_profiles WHERE user_id = ?`, userID)
	sealed, err := scanSealed(row, nil, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "profile")
	}
	createdAt, updatedAt := p.CreatedAt, p.UpdatedAt
	if err := s.open(sealed, &p); err != nil {
		return nil, fmt.Errorf("store: profile %s: %w", userID, err)
	}
	p.CreatedAt, p.UpdatedAt = createdAt, updatedAt
	return &p, nil
}

// SaveProfile encrypts and upserts a profile.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	sealed, err := s.seal(p)
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	now := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			encrypted_blob    = excluded.encrypted_blob,
			encryption_header = excluded.encryption_header,
			integrity_hash    = excluded.integrity_hash,
			updated_at        = excluded.updated_at`,
		p.UserID, sealed.blob, sealed.header, sealed.hash, now, now)
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	return nil
}

// ─── Summaries ───────────────────────────────────────────────────────────────

// GetSummary returns the decrypted summary of a session.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	var sum Summary
	row := s.db.QueryRowContext(ctx, `
		SELECT encrypted_blob, encryption_header, integrity_hash, created_at, updated_at
		FROM session_summaries WHERE session_id = ?`, sessionID)
	sealed, err := scanSealed(row, nil, &sum.CreatedAt, &sum.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "summary")
	}
	createdAt, updatedAt := sum.CreatedAt, sum.UpdatedAt
	if err := s.open(sealed, &sum); err != nil {
		return nil, fmt.Errorf("store: summary %s: %w", sessionID, err)
	}
	sum.CreatedAt, sum.UpdatedAt = createdAt, updatedAt
	return &sum, nil
}

// SaveSummary encrypts and upserts the summary of a session.
func (s *Store) SaveSummary(ctx context.Context, sum Summary) error {
	sealed, err := s.seal(sum)
	if err != nil {
		return fmt.Errorf("store: save summary: %w", err)
	}
	now := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, user_id, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			encrypted_blob    = excluded.encrypted_blob,
			encryption_header = excluded.encryption_header,
			integrity_hash    = excluded.integrity_hash,
			updated_at        = excluded.updated_at`,
		sum.SessionID, sum.UserID, sealed.blob, sealed.header, sealed.hash, now, now)
	if err != nil {
		return fmt.Errorf("store: save summary: %w", err)
	}
	return nil
}

// ListSummaries returns up to limit summaries of userID, newest first.
// A record that fails to decrypt is skipped and logged; the rest are
// returned.
func (s *Store) ListSummaries(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at
		FROM session_summaries WHERE user_id = ?
		ORDER BY created_at DESC, session_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Summary
	for rows.Next() {
		var (
			sum       Summary
			sessionID string
		)
		sealed, err := scanSealed(rows, []any{&sessionID}, &sum.CreatedAt, &sum.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: list summaries: %w", err)
		}
		createdAt, updatedAt := sum.CreatedAt, sum.UpdatedAt
		if err := s.open(sealed, &sum); err != nil {
			if isRecordFailure(err) {
				s.log.Warnf("skipping unreadable summary %s: %v", sessionID, err)
				continue
			}
			return nil, err
		}
		sum.CreatedAt, sum.UpdatedAt = createdAt, updatedAt
		results = append(results, sum)
	}
	return results, rows.Err()
}

// ─── Provider keys ───────────────────────────────────────────────────────────

// GetProviderKey returns the decrypted API key of a provider.
func (s *Store) GetProviderKey(ctx context.Context, provider string) (*ProviderKey, error) {
	var k ProviderKey
	row := s.db.QueryRowContext(ctx, `
		SELECT encrypted_blob, encryption_header, integrity_hash, created_at, updated_at
		FROM llm_provider_keys WHERE provider = ?`, provider)
	sealed, err := scanSealed(row, nil, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "provider key")
	}
	createdAt, updatedAt := k.CreatedAt, k.UpdatedAt
	if err := s.open(sealed, &k); err != nil {
		return nil, fmt.Errorf("store: provider key %s: %w", provider, err)
	}
	k.CreatedAt, k.UpdatedAt = createdAt, updatedAt
	return &k, nil
}

// SaveProviderKey encrypts and upserts a provider API key.
func (s *Store) SaveProviderKey(ctx context.Context, k ProviderKey) error {
	sealed, err := s.seal(k)
	if err != nil {
		return fmt.Errorf("store: save provider key: %w", err)
	}
	now := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_provider_keys (provider, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			encrypted_blob    = excluded.encrypted_blob,
			encryption_header = excluded.encryption_header,
			integrity_hash    = excluded.integrity_hash,
			updated_at        = excluded.updated_at`,
		k.Provider, sealed.blob, sealed.header, sealed.hash, now, now)
	if err != nil {
		return fmt.Errorf("store: save provider key: %w", err)
	}
	return nil
}

// ─── Arcs ────────────────────────────────────────────────────────────────────

// GetArc returns the decrypted arc of userID.
func (s *Store) GetArc(ctx context.Context, userID string) (*Arc, error) {
	var (
		a       Arc
		version int
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT version, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at
		FROM user_arcs WHERE user_id = ?`, userID)
	sealed, err := scanSealed(row, []any{&version}, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "arc")
	}
	createdAt, updatedAt := a.CreatedAt, a.UpdatedAt
	if err := s.open(sealed, &a); err != nil {
		return nil, fmt.Errorf("store: arc %s: %w", userID, err)
	}
	a.Version, a.CreatedAt, a.UpdatedAt = version, createdAt, updatedAt
	return &a, nil
}

// SaveArc encrypts and stores a new version of the user's arc. The stored
// version is one more than the previous one, regardless of a.Version.
func (s *Store) SaveArc(ctx context.Context, a Arc) (*Arc, error) {
	now := s.now()
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var prev int
		err := tx.QueryRowContext(ctx, `SELECT version FROM user_arcs WHERE user_id = ?`, a.UserID).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		a.Version = prev + 1

		sealed, err := s.seal(a)
		if err != nil {
			return err
		}
		stamp := formatTime(now)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_arcs (user_id, version, encrypted_blob, encryption_header, integrity_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				version           = excluded.version,
				encrypted_blob    = excluded.encrypted_blob,
				encryption_header = excluded.encryption_header,
				integrity_hash    = excluded.integrity_hash,
				updated_at        = excluded.updated_at`,
			a.UserID, a.Version, sealed.blob, sealed.header, sealed.hash, stamp, stamp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: save arc: %w", err)
	}
	a.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return &a, nil
}

// ─── Notebooks ───────────────────────────────────────────────────────────────

// GetNotebook returns the decrypted notebook of a session.
func (s *Store) GetNotebook(ctx context.Context, sessionID string) (*Notebook, error) {
	var n Notebook
	row := s.db.QueryRowContext(ctx, `
		SELECT encrypted_blob, encryption_header, integrity_hash, created_at
		FROM session_notebooks WHERE session_id = ?`, sessionID)
	sealed, err := scanSealed(row, nil, &n.CreatedAt)
	if err != nil {
		return nil, notFound(err, "notebook")
	}
	createdAt := n.CreatedAt
	if err := s.open(sealed, &n); err != nil {
		return nil, fmt.Errorf("store: notebook %s: %w", sessionID, err)
	}
	n.CreatedAt = createdAt
	return &n, nil
}

// SaveNotebook stores the notebook of a session. Notebooks are immutable; a
// second save for the same session fails with ErrNotebookExists.
func (s *Store) SaveNotebook(ctx context.Context, n Notebook) error {
	sealed, err := s.seal(n)
	if err != nil {
		return fmt.Errorf("store: save notebook: %w", err)
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_notebooks (session_id, user_id, encrypted_blob, encryption_header, integrity_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.SessionID, n.UserID, sealed.blob, sealed.header, sealed.hash, formatTime(created))
	if isUniqueViolation(err) {
		return fmt.Errorf("store: notebook %s: %w", n.SessionID, lerrors.ErrNotebookExists)
	}
	if err != nil {
		return fmt.Errorf("store: save notebook: %w", err)
	}
	return nil
}

// ListNotebooks returns the notebooks of userID, newest first. Unreadable
// notebooks are skipped and logged.
func (s *Store) ListNotebooks(ctx context.Context, userID string) ([]Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, encrypted_blob, encryption_header, integrity_hash, created_at
		FROM session_notebooks WHERE user_id = ?
		ORDER BY created_at DESC, session_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list notebooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Notebook
	for rows.Next() {
		var (
			n         Notebook
			sessionID string
		)
		sealed, err := scanSealed(rows, []any{&sessionID}, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: list notebooks: %w", err)
		}
		createdAt := n.CreatedAt
		if err := s.open(sealed, &n); err != nil {
			if isRecordFailure(err) {
				s.log.Warnf("skipping unreadable notebook %s: %v", sessionID, err)
				continue
			}
			return nil, err
		}
		n.CreatedAt = createdAt
		results = append(results, n)
	}
	return results, rows.Err()
}

// isRecordFailure reports whether err is confined to one record.
func isRecordFailure(err error) bool {
	return errors.Is(err, lerrors.ErrIntegrity) || errors.Is(err, lerrors.ErrAuthentication)
}
