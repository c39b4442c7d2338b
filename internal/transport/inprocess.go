package transport

import (
	"context"

	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

// pipe is one unidirectional, buffered channel-backed queue of frame
// sequences.
type pipe struct {
	ch chan [][]byte
}

func newPipe() *pipe { return &pipe{ch: make(chan [][]byte, 64)} }

// InProcess is a Transport backed by Go channels instead of sockets,
// for embedding a kernel in the same process as its client (tests,
// single-binary deployments) without paying for a loopback socket.
type InProcess struct {
	toKernel   map[protocol.Channel]*pipe
	fromKernel map[protocol.Channel]*pipe
	closed     chan struct{}
}

// NewInProcessPair returns two linked InProcess transports: one for
// the kernel side, one for the client side. Writes on one side's Send
// become reads on the other side's Recv for the same channel.
func NewInProcessPair() (kernelSide, clientSide *InProcess) {
	channels := []protocol.Channel{
		protocol.ChannelShell, protocol.ChannelControl, protocol.ChannelIOPub,
		protocol.ChannelStdin, protocol.ChannelHeartbeat,
	}
	toKernel := make(map[protocol.Channel]*pipe, len(channels))
	toClient := make(map[protocol.Channel]*pipe, len(channels))
	for _, c := range channels {
		toKernel[c] = newPipe()
		toClient[c] = newPipe()
	}

	kernelSide = &InProcess{toKernel: toClient, fromKernel: toKernel, closed: make(chan struct{})}
	clientSide = &InProcess{toKernel: toKernel, fromKernel: toClient, closed: kernelSide.closed}
	return kernelSide, clientSide
}

// Send writes frames to channel, to be read by the peer's Recv/TryRecv
// on the same channel.
func (p *InProcess) Send(ctx context.Context, channel protocol.Channel, frames [][]byte) error {
	pp, ok := p.toKernel[channel]
	if !ok {
		return kernelerr.Internal("no pipe for channel %s", channel)
	}
	select {
	case pp.ch <- frames:
		return nil
	case <-p.closed:
		return kernelerr.Transport(nil, "transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a message arrives on channel, ctx is done, or the
// pair is closed.
func (p *InProcess) Recv(ctx context.Context, channel protocol.Channel) ([][]byte, error) {
	pp, ok := p.fromKernel[channel]
	if !ok {
		return nil, kernelerr.Internal("no pipe for channel %s", channel)
	}
	select {
	case frames := <-pp.ch:
		return frames, nil
	case <-p.closed:
		return nil, kernelerr.Transport(nil, "transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryRecv is the non-blocking poll used by the message loop.
func (p *InProcess) TryRecv(channel protocol.Channel) ([][]byte, bool, error) {
	pp, ok := p.fromKernel[channel]
	if !ok {
		return nil, false, kernelerr.Internal("no pipe for channel %s", channel)
	}
	select {
	case frames := <-pp.ch:
		return frames, true, nil
	case <-p.closed:
		return nil, false, kernelerr.Transport(nil, "transport closed")
	default:
		return nil, false, nil
	}
}

// Close marks the pair closed; both sides observe it.
func (p *InProcess) Close() error {
	select {
	case <-p.closed:
		// already closed
	default:
		close(p.closed)
	}
	return nil
}
