// Package transport provides the kernel's five-channel ZeroMQ binding
// (network.go) and an in-process pipe pair (inprocess.go) used by
// tests and by embedders that run a kernel without a socket layer.
package transport

import (
	"context"

	"github.com/llmkernel/kernel/internal/protocol"
)

// Transport is the narrow capability the message loop depends on: receive
// and send raw multipart frames on a named channel. Sign/verify and
// JSON (de)serialization live in protocol.Codec, layered on top.
type Transport interface {
	// Recv blocks until a message arrives on channel, or ctx is done.
	Recv(ctx context.Context, channel protocol.Channel) ([][]byte, error)
	// Send writes frames to channel.
	Send(ctx context.Context, channel protocol.Channel, frames [][]byte) error
	// Close releases every channel's underlying socket/pipe.
	Close() error
}

// TryRecv is a non-blocking poll: it returns (nil, false, nil) if no
// message is currently available on channel rather than blocking.
// Network and in-process transports both support this so the message
// loop can cycle control -> shell -> stdin -> heartbeat in fixed
// order within one tick instead of blocking on the first channel.
type Poller interface {
	TryRecv(channel protocol.Channel) ([][]byte, bool, error)
}
