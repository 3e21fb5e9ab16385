package ws

import (
	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.JoinMsg, protocol.ChatMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// RouteToInbox registers handlers that queue the given message types on the
// connection inbox for its session. A full inbox answers with a
// rate_limited error and drops the message.
func (d *MessageDispatcher) RouteToInbox(msgTypes ...string) {
	for _, t := range msgTypes {
		d.Register(t, func(conn *Connection, msg interface{}) {
			if !conn.Deliver(msg) {
				zap.S().Warnf("[ws] inbox full, dropping message conn=%s", conn.ID)
				d.sendError(conn, protocol.CodeRateLimited, "too many pending messages")
			}
		})
	}
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		zap.S().Debugf("[ws] dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		zap.S().Debugf("[ws] unsupported message type=%q conn=%s", msgType, conn.ID)
		d.sendError(conn, protocol.CodeUnexpected, "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	if err := conn.Send(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	}); err != nil {
		zap.S().Debugf("[ws] failed to send error conn=%s: %v", conn.ID, err)
	}
}

// sendPong answers a client ping and counts it as activity.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()
	if err := conn.Send(protocol.TypePong, protocol.PongMsg{}); err != nil {
		zap.S().Debugf("[ws] failed to send pong conn=%s: %v", conn.ID, err)
	}
}
