package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumenhq/lumen/internal/crypto"
	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
)

// State is the position of a Session in the unlock lifecycle.
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MetadataStore persists the single vault metadata record of a scope.
// GetVaultMetadata returns ErrNotFound when no vault exists.
type MetadataStore interface {
	GetVaultMetadata(ctx context.Context) (*Metadata, error)
	SaveVaultMetadata(ctx context.Context, m Metadata) error
}

// Options configures a Session.
type Options struct {
	Iterations int
	Cipher     string
	Version    string

	// IdleTimeout locks the vault after this long without key use.
	// Zero disables the idle lock.
	IdleTimeout time.Duration

	// FlushTimeout bounds the pre-lock hooks. Zero means 5s.
	FlushTimeout time.Duration

	Logger logging.Logger
	Now    func() time.Time
}

type lockHook struct {
	id   uint64
	name string
	fn   func(context.Context) error
}

// Session holds the vault key of one scope in memory. The key is never
// written anywhere; Lock wipes it.
//
// A Session is created once by the application root and passed by
// reference to everything that needs the key.
type Session struct {
	store MetadataStore
	opts  Options
	log   logging.Logger

	// lockMu serializes Lock so hooks never run twice concurrently.
	lockMu sync.Mutex

	mu      sync.RWMutex
	key     []byte
	meta    *Metadata
	idle    *time.Timer
	idleGen uint64

	hooksMu sync.Mutex
	hooks   []lockHook
	nextID  uint64
}

// NewSession returns a locked Session backed by store.
func NewSession(store MetadataStore, opts Options) *Session {
	if opts.Iterations <= 0 {
		opts.Iterations = crypto.DefaultIterations
	}
	if opts.Cipher == "" {
		opts.Cipher = crypto.DefaultCipher
	}
	if opts.Version == "" {
		opts.Version = crypto.DefaultVersion
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{store: store, opts: opts, log: opts.Logger}
}

// State reports the current lifecycle state, reading metadata when locked.
func (s *Session) State(ctx context.Context) (State, error) {
	if s.IsUnlocked() {
		return Unlocked, nil
	}
	meta, err := s.store.GetVaultMetadata(ctx)
	if errors.Is(err, lerrors.ErrNotFound) {
		return Uninitialized, nil
	}
	if err != nil {
		return Locked, err
	}
	if !meta.Initialized {
		return Uninitialized, nil
	}
	return Locked, nil
}

// Setup initializes a new vault and leaves it unlocked.
func (s *Session) Setup(ctx context.Context, passphrase string) error {
	state, err := s.State(ctx)
	if err != nil {
		return err
	}
	if state != Uninitialized {
		return fmt.Errorf("vault: setup: %w", lerrors.ErrVaultAlreadyInitialized)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKeyContext(ctx, passphrase, salt, s.opts.Iterations)
	if err != nil {
		return fmt.Errorf("vault: derive key: %w", err)
	}

	p := crypto.Params{Salt: salt, Iterations: s.opts.Iterations, Cipher: s.opts.Cipher, Version: s.opts.Version}
	kc, err := CreateKeyCheck(key, p)
	if err != nil {
		crypto.Zero(key)
		return err
	}
	meta := BuildMetadata(p, kc, s.opts.Now())
	if err := s.store.SaveVaultMetadata(ctx, meta); err != nil {
		crypto.Zero(key)
		return fmt.Errorf("vault: save metadata: %w", err)
	}

	s.hold(key, &meta)
	s.log.Infof("vault initialized (%d iterations, %s)", meta.KDFIterations, meta.Cipher)
	return nil
}

// Unlock derives a key from passphrase and verifies it against the stored
// key check. On failure the vault stays locked and ErrInvalidPassphrase is
// returned whether the passphrase was wrong or the key check was corrupt.
func (s *Session) Unlock(ctx context.Context, passphrase string) error {
	meta, err := s.store.GetVaultMetadata(ctx)
	if errors.Is(err, lerrors.ErrNotFound) {
		return fmt.Errorf("vault: unlock: %w", lerrors.ErrVaultNotInitialized)
	}
	if err != nil {
		return fmt.Errorf("vault: read metadata: %w", err)
	}
	if !meta.Initialized {
		return fmt.Errorf("vault: unlock: %w", lerrors.ErrVaultNotInitialized)
	}

	key, err := crypto.DeriveKeyContext(ctx, passphrase, meta.Salt, meta.KDFIterations)
	if err != nil {
		return fmt.Errorf("vault: derive key: %w", err)
	}

	if err := CheckKey(key, meta.KeyCheck); err != nil {
		crypto.Zero(key)
		if errors.Is(err, lerrors.ErrIntegrity) {
			s.log.Warnf("vault key check is corrupt: %v", err)
		} else {
			s.log.Debugf("vault key check rejected key: %v", err)
		}
		return fmt.Errorf("vault: unlock: %w", lerrors.ErrInvalidPassphrase)
	}

	s.hold(key, meta)
	s.log.Infof("vault unlocked")
	return nil
}

func (s *Session) hold(key []byte, meta *Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		crypto.Zero(s.key)
	}
	s.key = key
	s.meta = meta
	s.armIdleLocked()
}

// armIdleLocked (re)starts the idle timer. Caller holds s.mu.
func (s *Session) armIdleLocked() {
	if s.opts.IdleTimeout <= 0 {
		return
	}
	s.idleGen++
	gen := s.idleGen
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = time.AfterFunc(s.opts.IdleTimeout, func() { s.idleLock(gen) })
}

func (s *Session) idleLock(gen uint64) {
	s.mu.RLock()
	stale := gen != s.idleGen || s.key == nil
	s.mu.RUnlock()
	if stale {
		return
	}
	s.log.Infof("vault idle for %s, locking", s.opts.IdleTimeout)
	s.Lock(context.Background())
}

// Touch records activity and pushes the idle lock back.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		s.armIdleLocked()
	}
}

// IsUnlocked reports whether a key is held.
func (s *Session) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// Key returns a copy of the held key for one operation. Callers zero the
// copy when done and never keep it.
func (s *Session) Key() ([]byte, error) {
	s.mu.RLock()
	if s.key == nil {
		s.mu.RUnlock()
		return nil, lerrors.ErrVaultLocked
	}
	key := append([]byte(nil), s.key...)
	s.mu.RUnlock()
	s.Touch()
	return key, nil
}

// Params returns the header parameters of the unlocked vault.
func (s *Session) Params() (crypto.Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil || s.meta == nil {
		return crypto.Params{}, lerrors.ErrVaultLocked
	}
	return s.meta.Params(), nil
}

// Metadata returns the metadata loaded at unlock.
func (s *Session) Metadata() (*Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil || s.key == nil {
		return nil, false
	}
	m := *s.meta
	return &m, true
}

// OnLock registers fn to run before the key is cleared. The returned
// function unregisters it.
func (s *Session) OnLock(name string, fn func(context.Context) error) (remove func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.nextID++
	id := s.nextID
	s.hooks = append(s.hooks, lockHook{id: id, name: name, fn: fn})
	return func() {
		s.hooksMu.Lock()
		defer s.hooksMu.Unlock()
		for i, h := range s.hooks {
			if h.id == id {
				s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
				return
			}
		}
	}
}

// Lock runs the registered flush hooks, bounded by FlushTimeout, and then
// wipes the key. Hook failures are logged; the key is cleared regardless.
func (s *Session) Lock(ctx context.Context) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if !s.IsUnlocked() {
		return
	}

	s.hooksMu.Lock()
	hooks := append([]lockHook(nil), s.hooks...)
	s.hooksMu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
	for _, h := range hooks {
		if err := h.fn(flushCtx); err != nil {
			s.log.Warnf("pre-lock hook %q failed: %v", h.name, err)
		}
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.Zero(s.key)
	s.key = nil
	s.meta = nil
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.log.Infof("vault locked")
}

// Close locks the vault on process teardown.
func (s *Session) Close(ctx context.Context) {
	s.Lock(ctx)
}
