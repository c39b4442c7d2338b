// Package protocol implements the Jupyter 5.3 wire message shape: the
// Header/Message envelope, channel identifiers, and the HMAC-signed
// multipart codec that moves them across a Transport.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies one of the kernel's five ZeroMQ sockets.
type Channel string

const (
	ChannelShell     Channel = "shell"
	ChannelControl   Channel = "control"
	ChannelIOPub     Channel = "iopub"
	ChannelStdin     Channel = "stdin"
	ChannelHeartbeat Channel = "heartbeat"
)

// ProtocolVersion is the Jupyter wire protocol version this kernel
// speaks.
const ProtocolVersion = "5.3"

// Delimiter separates routing-identity frames from the signed part of
// a multipart message.
const Delimiter = "<IDS|MSG>"

// Header is the Jupyter message header.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// NewHeader builds a Header with a fresh msg_id and the current time,
// stamped for msgType on behalf of username within session.
func NewHeader(msgType, session, username string) Header {
	return Header{
		MsgID:    uuid.NewString(),
		Username: username,
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

// Message is one decoded Jupyter protocol message, independent of
// which channel it arrived on or will be sent on.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`

	// Identities carries the ROUTER-socket routing frames that
	// preceded the delimiter on receipt; a reply must echo them back
	// unchanged so the router can steer the reply to the same peer.
	Identities [][]byte `json:"-"`
}

// NewMessage builds a reply/notification Message parented on parent,
// with a freshly minted header of the given msgType.
func NewMessage(msgType string, parent Header, content map[string]any) *Message {
	if content == nil {
		content = map[string]any{}
	}
	return &Message{
		Header:       NewHeader(msgType, parent.Session, "kernel"),
		ParentHeader: parent,
		Metadata:     map[string]any{},
		Content:      content,
	}
}

// Clone returns a deep-enough copy for safe concurrent mutation of
// Content/Metadata by different goroutines (IOPub broadcasting the
// same logical event to multiple derived messages).
func (m *Message) Clone() *Message {
	clone := *m
	clone.Content = cloneMap(m.Content)
	clone.Metadata = cloneMap(m.Metadata)
	clone.Identities = append([][]byte(nil), m.Identities...)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DecodeContent unmarshals m.Content into v via a JSON round trip,
// letting handlers bind loosely-typed wire content into a concrete
// request struct.
func (m *Message) DecodeContent(v any) error {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
