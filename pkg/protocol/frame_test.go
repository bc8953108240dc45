package protocol_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/vehicast/relay/pkg/protocol"
)

func TestDecodeMessage(t *testing.T) {
	raw := `{"type":"message","message":"hello","session_id":"s-1"}`

	frame, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}

	msg, ok := frame.(protocol.Message)
	if !ok {
		t.Fatalf("expected Message frame, got %T", frame)
	}
	if msg.Message != "hello" {
		t.Fatalf("unexpected message: %q", msg.Message)
	}
	if msg.SessionID != "s-1" {
		t.Fatalf("unexpected session id: %q", msg.SessionID)
	}
}

func TestDecodeMessageNullSession(t *testing.T) {
	raw := `{"type":"message","message":"hello","session_id":null}`

	frame, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}

	msg := frame.(protocol.Message)
	if msg.SessionID != "" {
		t.Fatalf("expected empty session id for null, got %q", msg.SessionID)
	}
}

func TestDecodeMessageWithHistory(t *testing.T) {
	raw := `{"type":"message_with_history","message":"and now?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],"session_id":"s-2"}`

	frame, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}

	msg, ok := frame.(protocol.MessageWithHistory)
	if !ok {
		t.Fatalf("expected MessageWithHistory frame, got %T", frame)
	}
	if len(msg.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(msg.History))
	}
	if msg.History[0].Role != protocol.RoleUser || msg.History[1].Role != protocol.RoleAssistant {
		t.Fatalf("unexpected history roles: %+v", msg.History)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := protocol.Decode([]byte("{not json"))

	var decodeErr *protocol.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"message":"hello"}`))

	var decodeErr *protocol.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDecodeUnknownTypeIsNotDecodeError(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"type":"telemetry","payload":42}`))

	var unknownErr *protocol.UnknownTypeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
	if unknownErr.Type != "telemetry" {
		t.Fatalf("unexpected type in error: %q", unknownErr.Type)
	}

	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		t.Fatal("unknown type must not be reported as a decode error")
	}
}

func TestEncodeDeltaShape(t *testing.T) {
	data, err := protocol.Encode(protocol.NewDelta("!", "hello!"))
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}

	if strings.ContainsRune(string(data), '\n') {
		t.Fatalf("frames must be newline-free: %q", data)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	delta := frame.(protocol.Delta)
	if delta.Delta != "!" || delta.Buffer != "hello!" {
		t.Fatalf("round trip mismatch: %+v", delta)
	}
}

func TestEncodeConnectedCarriesClientID(t *testing.T) {
	data, err := protocol.Encode(protocol.NewConnected("c-9", "Connected to WebSocket server"))
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	connected := frame.(protocol.Connected)
	if connected.ClientID != "c-9" {
		t.Fatalf("unexpected client id: %q", connected.ClientID)
	}
}

func TestPingPongTimestampRoundTrip(t *testing.T) {
	data, err := protocol.Encode(protocol.NewPong(1700000000123))
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	pong := frame.(protocol.Pong)
	if pong.Timestamp != 1700000000123 {
		t.Fatalf("unexpected timestamp: %d", pong.Timestamp)
	}
}
