package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/lobby/internal/protocol"
)

// dispatch runs Dispatch in the background since pipe writes block until
// the client side reads.
func dispatch(d *MessageDispatcher, c *Connection, raw string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(c, []byte(raw))
	}()
	return done
}

func TestDispatchPing(t *testing.T) {
	c, cli := newTestConn(t, "c1")
	c.lastSeen.Store(0)
	d := NewMessageDispatcher()

	done := dispatch(d, c, `{"type":"ping"}`)
	m := readMsg(t, cli)
	<-done

	assert.Equal(t, protocol.TypePong, m["type"])
	assert.WithinDuration(t, time.Now(), c.LastSeen(), time.Second)
}

func TestDispatchErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"invalid json", `{not json`, protocol.CodeInvalidMessage},
		{"missing type", `{"text":"hi"}`, protocol.CodeInvalidMessage},
		{"unknown type", `{"type":"typing"}`, protocol.CodeInvalidMessage},
		{"no route", `{"type":"message","text":"hi"}`, protocol.CodeUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cli := newTestConn(t, "c1")
			d := NewMessageDispatcher()

			done := dispatch(d, c, tt.raw)
			m := readMsg(t, cli)
			<-done

			assert.Equal(t, protocol.TypeError, m["type"])
			assert.Equal(t, tt.code, m["code"])
		})
	}
}

func TestRouteToInbox(t *testing.T) {
	c, _ := newTestConn(t, "c1")
	d := NewMessageDispatcher()
	d.RouteToInbox(protocol.TypeJoin, protocol.TypeMessage, protocol.TypeLeave)

	<-dispatch(d, c, `{"type":"join","nickname":"alice"}`)
	<-dispatch(d, c, `{"type":"message","text":"hello"}`)
	<-dispatch(d, c, `{"type":"leave"}`)

	want := []interface{}{
		protocol.JoinMsg{Type: protocol.TypeJoin, Nickname: "alice"},
		protocol.ChatMsg{Type: protocol.TypeMessage, Text: "hello"},
		protocol.LeaveMsg{Type: protocol.TypeLeave},
	}
	for _, w := range want {
		got, err := c.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
}

func TestRouteToInboxFull(t *testing.T) {
	c, cli := newTestConn(t, "c1")
	d := NewMessageDispatcher()
	d.RouteToInbox(protocol.TypeMessage)

	for i := 0; i < InboxSize; i++ {
		<-dispatch(d, c, `{"type":"message","text":"x"}`)
	}

	done := dispatch(d, c, `{"type":"message","text":"overflow"}`)
	m := readMsg(t, cli)
	<-done

	assert.Equal(t, protocol.TypeError, m["type"])
	assert.Equal(t, protocol.CodeRateLimited, m["code"])
}

func TestCustomHandler(t *testing.T) {
	c, _ := newTestConn(t, "c1")
	d := NewMessageDispatcher()

	got := make(chan interface{}, 1)
	d.Register(protocol.TypeLeave, func(conn *Connection, msg interface{}) {
		got <- msg
	})

	<-dispatch(d, c, `{"type":"leave"}`)
	assert.IsType(t, protocol.LeaveMsg{}, <-got)
}
