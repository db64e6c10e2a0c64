// Package protocol defines the wire messages of the esgrima collaboration
// protocol: a closed set of JSON frames discriminated by a four-letter-ish
// type code, exchanged over a websocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type MessageType string

const (
	MsgHello     MessageType = "HELO"
	MsgOK        MessageType = "OK"
	MsgBye       MessageType = "BYE"
	MsgCreate    MessageType = "CREA"
	MsgCreateAck MessageType = "CACK"
	MsgEnroll    MessageType = "ENRO"
	MsgEnrollAck MessageType = "EACK"
	MsgDelete    MessageType = "DLTE"
	MsgAdd       MessageType = "ADD"
	MsgError     MessageType = "ERR"
)

// Status codes carried by ERR frames.
const (
	StatusBadRequest   = 400
	StatusUnauthorized = 403
	StatusNotFound     = 404
	StatusInternal     = 500
)

var knownTypes = map[MessageType]bool{
	MsgHello:     true,
	MsgOK:        true,
	MsgBye:       true,
	MsgCreate:    true,
	MsgCreateAck: true,
	MsgEnroll:    true,
	MsgEnrollAck: true,
	MsgDelete:    true,
	MsgAdd:       true,
	MsgError:     true,
}

// Change is one replayed model edit inside an EACK frame.
type Change struct {
	Data json.RawMessage `json:"data"`
	TS   string          `json:"ts"`
	User string          `json:"userId"`
}

// Message is the single flat frame shape shared by every message type.
// ClientID, UserID and TS are present on all frames; the remaining fields are
// populated per type and omitted from the encoding otherwise.
type Message struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
	UserID   string      `json:"userId"`
	TS       string      `json:"ts"`

	// ResponseTo ties a response frame to the request it answers; it holds
	// the request's Hash.
	ResponseTo string `json:"responseTo,omitempty"`

	// HELO
	Version  string `json:"version,omitempty"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`

	// Room-scoped frames.
	Locator string `json:"locator,omitempty"`

	// CREA / EACK
	InitialModel json.RawMessage `json:"initialModel,omitempty"`

	// ADD
	Payload json.RawMessage `json:"payload,omitempty"`

	// EACK
	Changes []Change `json:"changes,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`

	// ERR
	Status      int    `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// Decode parses a single wire frame. It rejects frames that are not valid
// JSON objects or whose type code is not part of the protocol; the caller is
// expected to answer such frames with an ERR rather than drop the connection.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("frame has no type code")
	}
	// Type codes are matched case-insensitively, as the reference server
	// always did.
	msg.Type = MessageType(strings.ToUpper(string(msg.Type)))
	if !knownTypes[msg.Type] {
		return nil, fmt.Errorf("unknown type code %q", msg.Type)
	}
	return &msg, nil
}

// Encode serializes a frame for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Hash identifies a request frame for correlation. Response frames echo it in
// ResponseTo. The scheme (clientId+userId+ts concatenated) is fixed by the
// protocol, not chosen here.
func (m *Message) Hash() string {
	return m.ClientID + m.UserID + m.TS
}

// Timestamp returns an ISO-8601 stamp for outbound frames.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
