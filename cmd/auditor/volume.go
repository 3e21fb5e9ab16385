package main

import (
	"sync/atomic"

	"github.com/whisper/lobby/internal/chat"
)

// chatVolume counts chat events seen on the event stream between reports.
type chatVolume struct {
	messages      atomic.Int64
	announcements atomic.Int64
}

func (v *chatVolume) observe(ev chat.ChatEvent) {
	if ev.IsSystem() {
		v.announcements.Add(1)
		return
	}
	v.messages.Add(1)
}

// take returns the counts since the previous call and resets them.
func (v *chatVolume) take() (messages, announcements int64) {
	return v.messages.Swap(0), v.announcements.Swap(0)
}
