package server

import (
	"encoding/json"

	"github.com/vango-dev/scopebind/internal/errors"
)

// Client operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpEmit        = "emit"
	OpBroadcast   = "broadcast"
)

// Server message types.
const (
	TypeEvent = "event"
	TypeAck   = "ack"
	TypeError = "error"
)

// ClientMessage is a message sent by a websocket client.
type ClientMessage struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is a message sent to a websocket client.
type ServerMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// decodeClientMessage parses and validates a client message.
func decodeClientMessage(data []byte) (*ClientMessage, *errors.ScopeError) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New("E200").Wrap(err)
	}

	missing := func(field string) *errors.ScopeError {
		return errors.New("E202").WithDetail(field)
	}

	switch m.Op {
	case OpSubscribe:
		if m.ID == "" {
			return &m, missing("id")
		}
		if m.Room == "" {
			return &m, missing("room")
		}
		if m.Event == "" {
			return &m, missing("event")
		}
	case OpUnsubscribe:
		if m.ID == "" {
			return &m, missing("id")
		}
	case OpEmit, OpBroadcast:
		if m.Room == "" {
			return &m, missing("room")
		}
		if m.Event == "" {
			return &m, missing("event")
		}
	case "":
		return &m, missing("op")
	default:
		return &m, errors.New("E201").WithDetailf("%q", m.Op)
	}
	return &m, nil
}

// errorMessage builds an error reply from a coded error.
func errorMessage(id string, se *errors.ScopeError) ServerMessage {
	msg := se.Message
	if se.Detail != "" {
		msg += ": " + se.Detail
	}
	return ServerMessage{
		Type:    TypeError,
		ID:      id,
		Code:    se.Code,
		Message: msg,
	}
}

// payloadJSON converts an event payload into raw JSON. Payloads that came
// from the protocol are passed through untouched.
func payloadJSON(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
