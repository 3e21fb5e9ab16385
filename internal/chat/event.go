package chat

import "fmt"

// SystemAuthor is the reserved author of join and leave announcements.
const SystemAuthor = "📢"

// ChatEvent is one entry of the shared log: a chat message or a join/leave
// announcement. Events are immutable once appended.
type ChatEvent struct {
	Author string `json:"author"` // nickname, or SystemAuthor
	Body   string `json:"body"`
	Ts     int64  `json:"ts,omitempty"` // unix timestamp
}

// NewMessage builds a chat message authored by nickname.
func NewMessage(nickname, body string, ts int64) ChatEvent {
	return ChatEvent{Author: nickname, Body: body, Ts: ts}
}

// JoinEvent builds the announcement appended when nickname enters the chat.
func JoinEvent(nickname string, ts int64) ChatEvent {
	return ChatEvent{
		Author: SystemAuthor,
		Body:   fmt.Sprintf("%s joined the chat!", nickname),
		Ts:     ts,
	}
}

// LeaveEvent builds the announcement appended when nickname's session ends.
func LeaveEvent(nickname string, ts int64) ChatEvent {
	return ChatEvent{
		Author: SystemAuthor,
		Body:   fmt.Sprintf("User %s left the chat!", nickname),
		Ts:     ts,
	}
}

// IsSystem reports whether the event is an announcement.
func (e ChatEvent) IsSystem() bool {
	return e.Author == SystemAuthor
}
