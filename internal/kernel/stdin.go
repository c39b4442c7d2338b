package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

// stdinWaiter implements the single-outstanding input_request waiter:
// at most one request_input call may be pending at a time; the next
// input_reply on stdin fulfills it.
type stdinWaiter struct {
	mu      sync.Mutex
	pending chan string // nil when no request is outstanding
}

func newStdinWaiter() *stdinWaiter {
	return &stdinWaiter{}
}

// begin installs a waiter. It fails if one is already outstanding.
func (w *stdinWaiter) begin() (<-chan string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		return nil, kernelerr.Validation("an input_request is already outstanding")
	}
	ch := make(chan string, 1)
	w.pending = ch
	return ch, nil
}

// fulfill delivers value to the outstanding waiter, if any, and clears
// it. Returns false if nothing was pending.
func (w *stdinWaiter) fulfill(value string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return false
	}
	w.pending <- value
	close(w.pending)
	w.pending = nil
	return true
}

func (w *stdinWaiter) clear() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// requestInput sends input_request on stdin and blocks until
// input_reply arrives, ctx is done, or the 120s default timeout
// elapses (execution continues with no input on timeout).
func (k *Kernel) requestInput(ctx context.Context, parent protocol.Header, prompt string, password bool) (string, error) {
	ch, err := k.inbox.begin()
	if err != nil {
		return "", err
	}

	msg := protocol.NewMessage("input_request", parent, map[string]any{
		"prompt": prompt, "password": password,
	})
	frames, err := k.codec.Build(msg)
	if err != nil {
		k.inbox.clear()
		return "", kernelerr.Transport(err, "build input_request")
	}
	if err := k.tr.Send(ctx, protocol.ChannelStdin, frames); err != nil {
		k.inbox.clear()
		return "", kernelerr.Transport(err, "send input_request")
	}

	select {
	case value := <-ch:
		return value, nil
	case <-time.After(k.cfg.InputRequestTimeout):
		k.inbox.clear()
		return "", kernelerr.Timeout("input_request timed out after %s", k.cfg.InputRequestTimeout)
	case <-ctx.Done():
		k.inbox.clear()
		return "", ctx.Err()
	}
}

func (k *Kernel) handleInputReply(msg *protocol.Message) {
	value, _ := msg.Content["value"].(string)
	k.inbox.fulfill(value)
}
