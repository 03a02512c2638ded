package store

import "time"

// SetClock replaces the store's clock for tests in store_test.
// This file only compiles during `go test`.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
