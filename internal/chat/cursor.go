package chat

import "sync/atomic"

// Cursor is one reader's position in a Log. It is owned by a single
// goroutine; the log only reads its position to decide how far truncation
// may go.
type Cursor struct {
	log    *Log
	next   atomic.Uint64 // logical position of the next event to deliver
	missed atomic.Uint64
	closed atomic.Bool
}

// Next returns every event appended since the previous call, in append
// order, and advances past them. An event is never returned twice. If a
// truncation removed events this cursor had not observed yet, Next resumes at
// the oldest retained event and adds the gap to Missed.
func (c *Cursor) Next() []ChatEvent {
	c.log.mu.RLock()
	defer c.log.mu.RUnlock()

	pos := c.next.Load()
	events, start := c.log.snapshotLocked(pos)
	if start > pos {
		c.missed.Add(start - pos)
	}
	c.next.Store(start + uint64(len(events)))
	return events
}

// Position returns the logical position of the next event to deliver.
func (c *Cursor) Position() uint64 {
	return c.next.Load()
}

// Missed returns how many events were truncated before this cursor saw them.
func (c *Cursor) Missed() uint64 {
	return c.missed.Load()
}

// Close deregisters the cursor so it no longer holds back truncation. It is
// safe to call more than once.
func (c *Cursor) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.log.release(c)
	}
}
