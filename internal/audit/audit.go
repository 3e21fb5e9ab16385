// Package audit records moderation-relevant events (joins, leaves, rejected
// messages, mutes, bans, denied joins and persistence failures) to external
// sinks. Recording never affects the chat itself: recorders swallow and log
// their own failures.
package audit

import (
	"context"
	"time"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindJoin           Kind = "join"
	KindLeave          Kind = "leave"
	KindRejected       Kind = "rejected"
	KindMute           Kind = "mute"
	KindBan            Kind = "ban"
	KindJoinDenied     Kind = "join_denied"
	KindPersistFailure Kind = "persist_failure"
)

// Entry is one audit record.
type Entry struct {
	Kind     Kind      `json:"kind"`
	Nickname string    `json:"nickname,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Seconds  int64     `json:"seconds,omitempty"` // mute length, ban length or remaining ban time
	Count    int       `json:"count,omitempty"`   // violation count
	Server   string    `json:"server,omitempty"`
	Time     time.Time `json:"time"`
}

// Recorder receives audit entries. Implementations must be safe for
// concurrent use and must not block for long.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Multi fans an entry out to every recorder in order.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e Entry) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, e Entry) { f(ctx, e) }
