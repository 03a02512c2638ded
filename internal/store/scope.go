package store

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
)

var (
	scopeUnsafe = regexp.MustCompile(`[^a-z0-9_-]`)
	scopeValid  = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// NormalizeUserID lowercases a user id and replaces every character outside
// [a-z0-9_-] with '-'.
func NormalizeUserID(userID string) string {
	return scopeUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(userID)), "-")
}

// ScopeForUser returns the storage scope name of a user.
func ScopeForUser(userID string) (string, error) {
	n := NormalizeUserID(userID)
	if n == "" {
		return "", fmt.Errorf("store: empty user id: %w", lerrors.ErrInvalidScope)
	}
	return "user-" + n, nil
}

func validScope(scope string) bool {
	return scopeValid.MatchString(scope)
}

// Factory opens scope handles rooted at one data directory and keeps them
// open until Close. Handles for different scopes never share a database.
type Factory struct {
	cfg Config
	log logging.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewFactory creates a Factory.
func NewFactory(cfg Config, log logging.Logger) *Factory {
	return &Factory{cfg: cfg, log: log, stores: make(map[string]*Store)}
}

// ForScope returns the handle of scope, opening it on first use.
func (f *Factory) ForScope(scope string) (*Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[scope]; ok {
		return s, nil
	}
	s, err := Open(f.cfg, scope, f.log)
	if err != nil {
		return nil, err
	}
	f.stores[scope] = s
	return s, nil
}

// ForUser returns the handle of the user's scope.
func (f *Factory) ForUser(userID string) (*Store, error) {
	scope, err := ScopeForUser(userID)
	if err != nil {
		return nil, err
	}
	return f.ForScope(scope)
}

// Close closes every handle the factory opened.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for scope, s := range f.stores {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("store: close %s: %w", scope, err)
		}
		delete(f.stores, scope)
	}
	return first
}
