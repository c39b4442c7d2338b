package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/llmkernel/kernel/internal/kernelerr"
)

// Codec signs and verifies, parses and builds the multipart frame
// sequence that a Transport sends and receives. The HMAC key is
// installed once at construction (from the connection file) and never
// hot-swapped; signing and verification both read it without locking.
type Codec struct {
	scheme string
	key    []byte
}

// NewCodec builds a Codec for the given signature scheme ("hmac-sha256"
// is the only one implemented) and shared key. An empty key disables
// signing, matching Jupyter's own convention for unsigned testing
// setups; verification of an unsigned message always succeeds.
func NewCodec(scheme string, key []byte) *Codec {
	return &Codec{scheme: scheme, key: key}
}

func (c *Codec) sign(parts ...[]byte) string {
	if len(c.key) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, c.key)
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Build serializes msg into the frame sequence a Transport writes to
// the wire: [identities..., delimiter, signature, header, parent,
// metadata, content].
func (c *Codec) Build(msg *Message) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, kernelerr.Transport(err, "encode header")
	}
	parent, err := json.Marshal(msg.ParentHeader)
	if err != nil {
		return nil, kernelerr.Transport(err, "encode parent_header")
	}
	metadata, err := json.Marshal(nonNilMap(msg.Metadata))
	if err != nil {
		return nil, kernelerr.Transport(err, "encode metadata")
	}
	content, err := json.Marshal(nonNilMap(msg.Content))
	if err != nil {
		return nil, kernelerr.Transport(err, "encode content")
	}

	sig := c.sign(header, parent, metadata, content)

	frames := make([][]byte, 0, len(msg.Identities)+6)
	frames = append(frames, msg.Identities...)
	frames = append(frames,
		[]byte(Delimiter),
		[]byte(sig),
		header,
		parent,
		metadata,
		content,
	)
	return frames, nil
}

// Parse decodes a raw multipart frame sequence into a Message,
// verifying its HMAC signature. A signature mismatch is a Transport
// error: the caller discards the message and keeps the loop running.
func (c *Codec) Parse(frames [][]byte) (*Message, error) {
	delim := -1
	for i, f := range frames {
		if string(f) == Delimiter {
			delim = i
			break
		}
	}
	if delim == -1 {
		return nil, kernelerr.Transport(nil, "message delimiter %q not found", Delimiter)
	}
	if len(frames) < delim+6 {
		return nil, kernelerr.Transport(nil, "truncated message: expected signature+4 frames after delimiter")
	}

	identities := frames[:delim]
	sig := string(frames[delim+1])
	headerBytes := frames[delim+2]
	parentBytes := frames[delim+3]
	metadataBytes := frames[delim+4]
	contentBytes := frames[delim+5]

	if err := c.Verify(sig, headerBytes, parentBytes, metadataBytes, contentBytes); err != nil {
		return nil, err
	}

	msg := &Message{Identities: append([][]byte(nil), identities...)}
	if err := json.Unmarshal(headerBytes, &msg.Header); err != nil {
		return nil, kernelerr.Transport(err, "decode header")
	}
	if len(parentBytes) > 0 {
		if err := json.Unmarshal(parentBytes, &msg.ParentHeader); err != nil {
			return nil, kernelerr.Transport(err, "decode parent_header")
		}
	}
	msg.Metadata = map[string]any{}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &msg.Metadata); err != nil {
			return nil, kernelerr.Transport(err, "decode metadata")
		}
	}
	msg.Content = map[string]any{}
	if len(contentBytes) > 0 {
		if err := json.Unmarshal(contentBytes, &msg.Content); err != nil {
			return nil, kernelerr.Transport(err, "decode content")
		}
	}
	return msg, nil
}

// Verify recomputes the HMAC over header+parent+metadata+content and
// compares it against sig in constant time.
func (c *Codec) Verify(sig string, header, parent, metadata, content []byte) error {
	if len(c.key) == 0 {
		return nil
	}
	expected := c.sign(header, parent, metadata, content)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return kernelerr.Transport(nil, "signature mismatch")
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
