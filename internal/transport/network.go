package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
	"github.com/llmkernel/kernel/pkg/types"
)

// socketSpec pairs a channel with the ZeroMQ socket type and
// configured port it binds.
type socketSpec struct {
	channel protocol.Channel
	sockTyp zmq4.SocketType
	port    int
}

// inbox buffers one channel's received frames so Recv/TryRecv never
// block the receiving goroutine that keeps pumping the socket.
type inbox struct {
	sock zmq4.Socket
	ch   chan [][]byte
	errs chan error
}

// Network is the production Transport: one ZeroMQ socket per channel,
// bound per the connection info (Router for shell/control/stdin, Pub
// for iopub, Rep for heartbeat).
type Network struct {
	info    types.ConnectionInfo
	sockets map[protocol.Channel]zmq4.Socket
	inboxes map[protocol.Channel]*inbox

	mu         sync.Mutex
	boundPorts map[protocol.Channel]int
}

// NewNetwork creates (but does not bind) a Network transport for the
// given connection info.
func NewNetwork(info types.ConnectionInfo) *Network {
	return &Network{
		info:       info,
		sockets:    make(map[protocol.Channel]zmq4.Socket),
		inboxes:    make(map[protocol.Channel]*inbox),
		boundPorts: make(map[protocol.Channel]int),
	}
}

// Bind creates and binds every channel's socket. On success,
// BoundPorts reports the actual listening port for each channel — the
// caller must rewrite the connection file post-bind whenever a
// configured port was 0.
func (n *Network) Bind(ctx context.Context) error {
	specs := []socketSpec{
		{protocol.ChannelShell, zmq4.Router, n.info.ShellPort},
		{protocol.ChannelControl, zmq4.Router, n.info.ControlPort},
		{protocol.ChannelStdin, zmq4.Router, n.info.StdinPort},
		{protocol.ChannelIOPub, zmq4.Pub, n.info.IOPubPort},
		{protocol.ChannelHeartbeat, zmq4.Rep, n.info.HBPort},
	}

	for _, spec := range specs {
		sock, err := n.newSocket(ctx, spec.sockTyp)
		if err != nil {
			return kernelerr.Transport(err, "create %s socket", spec.channel)
		}
		addr := fmt.Sprintf("%s://%s:%d", n.info.Transport, n.info.IP, spec.port)
		if err := sock.Listen(addr); err != nil {
			return kernelerr.Transport(err, "bind %s socket to %s", spec.channel, addr)
		}

		n.sockets[spec.channel] = sock
		n.boundPorts[spec.channel] = n.resolvePort(sock, spec.port)

		box := &inbox{sock: sock, ch: make(chan [][]byte, 64), errs: make(chan error, 1)}
		n.inboxes[spec.channel] = box
		go n.pump(spec.channel, box)
	}
	return nil
}

func (n *Network) newSocket(ctx context.Context, typ zmq4.SocketType) (zmq4.Socket, error) {
	switch typ {
	case zmq4.Router:
		return zmq4.NewRouter(ctx), nil
	case zmq4.Pub:
		return zmq4.NewPub(ctx), nil
	case zmq4.Rep:
		return zmq4.NewRep(ctx), nil
	default:
		return nil, fmt.Errorf("unsupported socket type: %v", typ)
	}
}

// resolvePort returns the actual bound port, falling back to the
// configured one if the socket doesn't expose its listen address (or
// the configured port was already non-zero).
func (n *Network) resolvePort(sock zmq4.Socket, configured int) int {
	if configured != 0 {
		return configured
	}
	addrer, ok := sock.(interface{ Addr() net.Addr })
	if !ok {
		return configured
	}
	addr := addrer.Addr()
	if addr == nil {
		return configured
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return configured
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return configured
	}
	return port
}

// BoundPorts reports the actual listening port per channel after Bind.
func (n *Network) BoundPorts() map[protocol.Channel]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[protocol.Channel]int, len(n.boundPorts))
	for k, v := range n.boundPorts {
		out[k] = v
	}
	return out
}

func (n *Network) pump(channel protocol.Channel, box *inbox) {
	for {
		msg, err := box.sock.Recv()
		if err != nil {
			select {
			case box.errs <- err:
			default:
			}
			close(box.ch)
			return
		}
		box.ch <- msg.Frames
	}
}

// Recv blocks until a message arrives on channel, ctx is cancelled, or
// the underlying socket closes.
func (n *Network) Recv(ctx context.Context, channel protocol.Channel) ([][]byte, error) {
	box, ok := n.inboxes[channel]
	if !ok {
		return nil, kernelerr.Internal("no socket bound for channel %s", channel)
	}
	select {
	case frames, ok := <-box.ch:
		if !ok {
			return nil, drainErr(box)
		}
		return frames, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryRecv is the non-blocking poll used by the message loop's fixed
// control->shell->stdin->heartbeat cycle.
func (n *Network) TryRecv(channel protocol.Channel) ([][]byte, bool, error) {
	box, ok := n.inboxes[channel]
	if !ok {
		return nil, false, kernelerr.Internal("no socket bound for channel %s", channel)
	}
	select {
	case frames, ok := <-box.ch:
		if !ok {
			return nil, false, drainErr(box)
		}
		return frames, true, nil
	default:
		return nil, false, nil
	}
}

func drainErr(box *inbox) error {
	select {
	case err := <-box.errs:
		return kernelerr.Transport(err, "channel closed")
	default:
		return kernelerr.Transport(nil, "channel closed")
	}
}

// Send writes frames to channel's socket.
func (n *Network) Send(ctx context.Context, channel protocol.Channel, frames [][]byte) error {
	sock, ok := n.sockets[channel]
	if !ok {
		return kernelerr.Internal("no socket bound for channel %s", channel)
	}
	msg := zmq4.NewMsgFrom(frames...)
	if err := sock.Send(msg); err != nil {
		return kernelerr.Transport(err, "send on %s", channel)
	}
	return nil
}

// Close closes every bound socket.
func (n *Network) Close() error {
	var firstErr error
	for _, sock := range n.sockets {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
