package chat

import "sync"

const (
	// MaxMessages is the soft cap on retained events. Once the log grows past
	// it, the next maintenance pass keeps only the most recent half.
	MaxMessages = 200

	// hardLimitFactor bounds, as a multiple of the soft cap, how long a
	// lagging cursor may hold back truncation.
	hardLimitFactor = 4
)

// Log is the ordered, append-only store of chat events shared by every
// session. It is goroutine-safe; Append is the single linearization point
// for the global order.
//
// Positions are logical: the first event ever appended is 0 and positions are
// never reused. Truncation advances the base position instead of renumbering
// retained entries, so a reader holding a position can always tell whether
// the entries it expects are still present.
type Log struct {
	mu      sync.RWMutex
	events  []ChatEvent
	base    uint64 // logical position of events[0]
	max     int
	cursors map[*Cursor]struct{}
}

// NewLog creates a Log seeded with prior events (e.g. loaded from the history
// file). A non-positive max selects MaxMessages.
func NewLog(max int, seed []ChatEvent) *Log {
	if max <= 0 {
		max = MaxMessages
	}
	events := make([]ChatEvent, len(seed))
	copy(events, seed)
	return &Log{
		events:  events,
		max:     max,
		cursors: make(map[*Cursor]struct{}),
	}
}

// Append adds ev to the end of the log and returns its logical position.
func (l *Log) Append(ev ChatEvent) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	return l.base + uint64(len(l.events)-1)
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Snapshot returns the retained history together with the logical position
// right after it. Both are read under the same lock, so a cursor later
// registered at that position delivers exactly the events appended after the
// snapshot. Taking a snapshot does not hold back truncation.
func (l *Log) Snapshot() ([]ChatEvent, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history, _ := l.snapshotLocked(l.base)
	return history, l.base + uint64(len(l.events))
}

// snapshotLocked copies the retained events from logical position index on
// and returns the position of the first one. An index already truncated away
// is moved up to the current base.
func (l *Log) snapshotLocked(index uint64) ([]ChatEvent, uint64) {
	if index < l.base {
		index = l.base
	}
	end := l.base + uint64(len(l.events))
	if index >= end {
		return nil, index
	}
	off := int(index - l.base)
	out := make([]ChatEvent, len(l.events)-off)
	copy(out, l.events[off:])
	return out, index
}

// CursorAt registers a cursor whose next delivered event is the one at
// logical position pos. If pos was already truncated away the cursor's first
// Next counts the gap as missed.
func (l *Log) CursorAt(pos uint64) *Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursorLocked(pos)
}

func (l *Log) cursorLocked(pos uint64) *Cursor {
	c := &Cursor{log: l}
	c.next.Store(pos)
	l.cursors[c] = struct{}{}
	return c
}

// Maintain truncates the log once it exceeds the soft cap, keeping the most
// recent len/2 events. Events that a live cursor has not yet observed are kept
// as long as the log stays under the hard ceiling; past it the cut proceeds
// regardless and lagging cursors skip the gap. Returns the number of events
// dropped.
func (l *Log) Maintain() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.events)
	if n <= l.max {
		return 0
	}

	drop := n - n/2
	if n <= l.max*hardLimitFactor {
		if low, ok := l.lowWaterLocked(); ok && low < l.base+uint64(drop) {
			drop = int(low - l.base)
		}
	}
	if drop <= 0 {
		return 0
	}

	kept := make([]ChatEvent, n-drop)
	copy(kept, l.events[drop:])
	l.events = kept
	l.base += uint64(drop)
	return drop
}

// lowWaterLocked returns the smallest position any live cursor still needs.
func (l *Log) lowWaterLocked() (uint64, bool) {
	var (
		low   uint64
		found bool
	)
	for c := range l.cursors {
		pos := c.next.Load()
		if pos < l.base {
			pos = l.base
		}
		if !found || pos < low {
			low = pos
			found = true
		}
	}
	return low, found
}

func (l *Log) release(c *Cursor) {
	l.mu.Lock()
	delete(l.cursors, c)
	l.mu.Unlock()
}
