package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame type tags. The set is closed: decoding any other tag yields an
// UnknownTypeError so newer peers can add frame kinds without breaking
// older ones.
const (
	TypeMessage            = "message"
	TypeMessageWithHistory = "message_with_history"
	TypePing               = "ping"
	TypeConnected          = "connected"
	TypeSessionCreated     = "session_created"
	TypeDelta              = "delta"
	TypeComplete           = "complete"
	TypeError              = "error"
	TypePong               = "pong"
)

// Frame is one decoded wire message. Concrete frame structs carry their
// own type tag so Encode is plain marshalling.
type Frame interface {
	Kind() string
}

// Message asks the relay to run one turn against the session transcript.
// An empty SessionID asks the relay to mint a new session.
type Message struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (Message) Kind() string { return TypeMessage }

// MessageWithHistory is Message plus a client-supplied transcript that
// replaces the relay's stored history for this turn.
type MessageWithHistory struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	History   []Turn `json:"history"`
	SessionID string `json:"session_id"`
}

func (MessageWithHistory) Kind() string { return TypeMessageWithHistory }

// Ping is the client-side keepalive probe.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (Ping) Kind() string { return TypePing }

// Connected is sent once per connection and carries the relay-issued
// client identity.
type Connected struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

func (Connected) Kind() string { return TypeConnected }

// SessionCreated reports the session minted for a turn that arrived
// without a session_id.
type SessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func (SessionCreated) Kind() string { return TypeSessionCreated }

// Delta is one streamed fragment. Buffer is the authoritative cumulative
// text; Delta lets callers render append-only.
type Delta struct {
	Type   string `json:"type"`
	Delta  string `json:"delta"`
	Buffer string `json:"buffer"`
}

func (Delta) Kind() string { return TypeDelta }

// Complete terminates a turn with the full assembled response.
type Complete struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (Complete) Kind() string { return TypeComplete }

// Error carries a human-readable failure message. The connection stays
// open after an error frame.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (Error) Kind() string { return TypeError }

// Pong echoes the timestamp of the ping it answers.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (Pong) Kind() string { return TypePong }

// DecodeError reports a payload that is not valid JSON or lacks a type
// tag. Decode failures never terminate the connection.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownTypeError reports a well-formed frame whose type tag this build
// does not recognize. Callers should warn and ignore the frame.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "unknown frame type " + e.Type
}

// Encode serializes a frame to its wire form.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind(), err)
	}
	return data, nil
}

// Decode parses one wire payload into its typed frame.
func Decode(data []byte) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}
	if probe.Type == "" {
		return nil, &DecodeError{Reason: "missing type tag"}
	}

	var frame Frame
	var err error
	switch probe.Type {
	case TypeMessage:
		var f Message
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeMessageWithHistory:
		var f MessageWithHistory
		err = json.Unmarshal(data, &f)
		frame = f
	case TypePing:
		var f Ping
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeConnected:
		var f Connected
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeSessionCreated:
		var f SessionCreated
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeDelta:
		var f Delta
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeComplete:
		var f Complete
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeError:
		var f Error
		err = json.Unmarshal(data, &f)
		frame = f
	case TypePong:
		var f Pong
		err = json.Unmarshal(data, &f)
		frame = f
	default:
		return nil, &UnknownTypeError{Type: probe.Type}
	}

	if err != nil {
		return nil, &DecodeError{Reason: "invalid " + probe.Type + " frame", Err: err}
	}
	return frame, nil
}

// NewMessage builds a client turn request.
func NewMessage(text, sessionID string) Message {
	return Message{Type: TypeMessage, Message: text, SessionID: sessionID}
}

// NewMessageWithHistory builds a client turn request carrying its own
// transcript.
func NewMessageWithHistory(text string, history []Turn, sessionID string) MessageWithHistory {
	return MessageWithHistory{Type: TypeMessageWithHistory, Message: text, History: history, SessionID: sessionID}
}

// NewPing builds a keepalive probe.
func NewPing(timestamp int64) Ping {
	return Ping{Type: TypePing, Timestamp: timestamp}
}

// NewConnected builds the connection greeting.
func NewConnected(clientID, message string) Connected {
	return Connected{Type: TypeConnected, ClientID: clientID, Message: message}
}

// NewSessionCreated announces a freshly minted session.
func NewSessionCreated(sessionID string) SessionCreated {
	return SessionCreated{Type: TypeSessionCreated, SessionID: sessionID}
}

// NewDelta builds a streamed fragment frame.
func NewDelta(delta, buffer string) Delta {
	return Delta{Type: TypeDelta, Delta: delta, Buffer: buffer}
}

// NewComplete builds the terminal frame of a successful turn.
func NewComplete(message string) Complete {
	return Complete{Type: TypeComplete, Message: message}
}

// NewError builds an error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewPong answers a ping.
func NewPong(timestamp int64) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp}
}
