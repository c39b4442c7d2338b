package kernel

import (
	"context"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

// handleDebugRequest implements debug_request (§4.7): pass the DAP
// command through to the configured debug bridge and broadcast any
// resulting DAP events on IOPub with no parent header, ahead of
// returning the DAP response as debug_reply's content.
func (k *Kernel) handleDebugRequest(ctx context.Context, req *protocol.Message) map[string]any {
	if k.cfg.Debugger == nil {
		return errContent(kernelerr.Configuration("no debug bridge configured"), 0)
	}
	if dc, ok := k.cfg.Executor.(capability.DebugCapable); ok && !dc.SupportsDebug() {
		return errContent(kernelerr.Configuration("script executor does not support debugging"), 0)
	}

	result, err := k.cfg.Debugger.Handle(ctx, req.Content)
	if err != nil {
		return errContent(kernelerr.Execution(err, "debug command failed"), 0)
	}

	for _, evt := range result.Events {
		msg := protocol.NewMessage("debug_event", protocol.Header{}, evt)
		frames, buildErr := k.codec.Build(msg)
		if buildErr != nil {
			k.log.Warn().Err(buildErr).Msg("failed to build debug_event")
			continue
		}
		if sendErr := k.tr.Send(ctx, protocol.ChannelIOPub, frames); sendErr != nil {
			k.log.Warn().Err(sendErr).Msg("failed to send debug_event")
		}
	}

	return result.Response
}
