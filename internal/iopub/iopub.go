// Package iopub publishes kernel broadcast messages (status,
// execute_input, stream, execute_result, display_data, error) onto the
// IOPub channel, in order, and fans the same messages out to
// in-process subscribers, calling each on its own goroutine. The
// Publisher also holds a watermill gochannel, which it creates and
// closes but does not publish to.
package iopub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

// Sender is the narrow transport capability the Publisher needs: send
// already-framed bytes on the IOPub channel.
type Sender interface {
	Send(ctx context.Context, channel protocol.Channel, frames [][]byte) error
}

// Subscriber receives every message a Publisher sends, after the wire
// send has completed.
type Subscriber func(msg *protocol.Message)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Publisher sends IOPub broadcast messages. Publish is synchronous
// with respect to the wire: callers that need the
// status=busy,...,status=idle ordering for one execution must call
// Publish for each message in order from the same goroutine (the
// message-loop task), since concurrent Publish calls from different
// executions could otherwise interleave on the wire.
type Publisher struct {
	sender Sender
	codec  *protocol.Codec

	mu          sync.RWMutex
	subscribers []subscriberEntry
	nextID      uint64

	pubsub *gochannel.GoChannel
}

// NewPublisher creates a Publisher sending through sender, signed by
// codec.
func NewPublisher(sender Sender, codec *protocol.Codec) *Publisher {
	return &Publisher{
		sender: sender,
		codec:  codec,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{}),
	}
}

// Publish signs and sends msg on IOPub, then notifies subscribers.
func (p *Publisher) Publish(ctx context.Context, msg *protocol.Message) error {
	frames, err := p.codec.Build(msg)
	if err != nil {
		return kernelerr.Transport(err, "build iopub message %s", msg.Header.MsgType)
	}
	if err := p.sender.Send(ctx, protocol.ChannelIOPub, frames); err != nil {
		return err
	}

	p.mu.RLock()
	subs := make([]Subscriber, len(p.subscribers))
	for i, e := range p.subscribers {
		subs[i] = e.fn
	}
	p.mu.RUnlock()

	for _, sub := range subs {
		go sub(msg)
	}
	return nil
}

// Status publishes a status message (busy/idle) parented on parent.
func (p *Publisher) Status(ctx context.Context, parent protocol.Header, executionState string) error {
	return p.Publish(ctx, protocol.NewMessage("status", parent, map[string]any{"execution_state": executionState}))
}

// ExecuteInput publishes execute_input, announcing the code about to
// run under executionCount.
func (p *Publisher) ExecuteInput(ctx context.Context, parent protocol.Header, code string, executionCount int) error {
	return p.Publish(ctx, protocol.NewMessage("execute_input", parent, map[string]any{
		"code": code, "execution_count": executionCount,
	}))
}

// Stream publishes a stdout/stderr stream chunk.
func (p *Publisher) Stream(ctx context.Context, parent protocol.Header, name, text string) error {
	return p.Publish(ctx, protocol.NewMessage("stream", parent, map[string]any{"name": name, "text": text}))
}

// ExecuteResult publishes a result value for executionCount.
func (p *Publisher) ExecuteResult(ctx context.Context, parent protocol.Header, executionCount int, data map[string]any) error {
	return p.Publish(ctx, protocol.NewMessage("execute_result", parent, map[string]any{
		"execution_count": executionCount, "data": data, "metadata": map[string]any{},
	}))
}

// DisplayData publishes a rich display payload.
func (p *Publisher) DisplayData(ctx context.Context, parent protocol.Header, data map[string]any) error {
	return p.Publish(ctx, protocol.NewMessage("display_data", parent, map[string]any{
		"data": data, "metadata": map[string]any{},
	}))
}

// Error publishes an execution error.
func (p *Publisher) Error(ctx context.Context, parent protocol.Header, ename, evalue string, traceback []string) error {
	return p.Publish(ctx, protocol.NewMessage("error", parent, map[string]any{
		"ename": ename, "evalue": evalue, "traceback": traceback,
	}))
}

// Subscribe registers fn for every message Publish sends. Returns an
// unsubscribe function.
func (p *Publisher) Subscribe(fn Subscriber) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := atomic.AddUint64(&p.nextID, 1)
	p.subscribers = append(p.subscribers, subscriberEntry{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, e := range p.subscribers {
			if e.id == id {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Close releases the internal pub/sub infrastructure.
func (p *Publisher) Close() error {
	return p.pubsub.Close()
}
