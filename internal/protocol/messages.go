// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the lobby server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeLeave   = "leave"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeHistoryDone  = "history_done"
	TypeJoinPrompt   = "join_prompt"
	TypeJoinRejected = "join_rejected"
	TypeJoined       = "joined"
	TypeLine         = "line"
	TypeNotice       = "notice"
	TypeClosed       = "closed"
	TypeError        = "error"
	TypePong         = "pong"
)

// Rejection and error codes carried by JoinRejectedMsg and ErrorMsg.
const (
	CodeNicknameTaken     = "nickname_taken"
	CodeNicknameForbidden = "nickname_forbidden"
	CodeNicknameInvalid   = "nickname_invalid"
	CodeRateLimited       = "rate_limited"
	CodeInvalidMessage    = "invalid_message"
	CodeUnexpected        = "unexpected_message"
	CodeInternal          = "internal_error"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg is sent by the client in answer to a join prompt.
type JoinMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// ChatMsg is a text message submitted by a joined client.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LeaveMsg asks the server to end the session.
type LeaveMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once the WebSocket is established.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// HistoryDoneMsg marks the end of the history replay.
type HistoryDoneMsg struct {
	Type string `json:"type"`
}

// JoinPromptMsg asks the client for a nickname.
type JoinPromptMsg struct {
	Type string `json:"type"`
}

// JoinRejectedMsg reports why a nickname was refused. The client may retry.
type JoinRejectedMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinedMsg confirms the nickname the client joined under.
type JoinedMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// LineMsg is one chat line to render.
type LineMsg struct {
	Type   string `json:"type"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

// NoticeMsg is a transient user-facing alert.
type NoticeMsg struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// ClosedMsg ends the session. The connection is closed right after it.
type ClosedMsg struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	CanRejoin bool   `json:"can_rejoin"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
