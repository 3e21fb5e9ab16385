package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","nickname":"alice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Nickname != "alice" {
		t.Errorf("expected nickname %q, got %q", "alice", jm.Nickname)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat message keeps colons and newlines intact
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","text":"time: 12:30\nsee you"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "time: 12:30\nsee you" {
		t.Errorf("unexpected text %q", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_Line(t *testing.T) {
	data, err := NewServerMessage(TypeLine, LineMsg{Author: "📢", Body: "alice joined the chat!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeLine {
		t.Errorf("expected type %q, got %v", TypeLine, result["type"])
	}
	if result["author"] != "📢" {
		t.Errorf("expected author %q, got %v", "📢", result["author"])
	}
	if result["body"] != "alice joined the chat!" {
		t.Errorf("unexpected body %v", result["body"])
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeClosed, ClosedMsg{Type: "bogus", Reason: "banned", CanRejoin: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded ClosedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeClosed {
		t.Errorf("expected type %q, got %q", TypeClosed, decoded.Type)
	}
	if decoded.Reason != "banned" || decoded.CanRejoin {
		t.Errorf("unexpected closed payload: %+v", decoded)
	}

	// can_rejoin is always present, even when false.
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := raw["can_rejoin"]; !ok {
		t.Error("expected can_rejoin field to be present")
	}
}

func TestNewServerMessage_Unmarshalable(t *testing.T) {
	if _, err := NewServerMessage(TypeNotice, make(chan int)); err == nil {
		t.Fatal("expected an error for an unmarshalable payload")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"line","author":"x","body":"y"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for a server-only message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != TypeLine {
		t.Errorf("expected returned type %q, got %q", TypeLine, msgType)
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	input := []byte(`{"type":"join","nickname":42}`)

	msgType, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for a mistyped field, got nil")
	}
	if msgType != TypeJoin {
		t.Errorf("expected returned type %q, got %q", TypeJoin, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join", `{"type":"join","nickname":"bob"}`, TypeJoin},
		{"message", `{"type":"message","text":"hi"}`, TypeMessage},
		{"leave", `{"type":"leave"}`, TypeLeave},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
