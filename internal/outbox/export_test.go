package outbox

import "time"

// SetClock replaces the queue's clock for tests in outbox_test.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}
