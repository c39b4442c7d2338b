package kernel

import (
	"context"
	"time"

	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

// dispatch routes one decoded message to its handler and sends the
// reply back on channel ch, echoing req's routing identities. Control
// messages in a tick are dispatched before shell messages because
// Kernel.tick polls control first (§4.3/§4.4 ordering).
func (k *Kernel) dispatch(ctx context.Context, ch protocol.Channel, req *protocol.Message) {
	guard := k.shutdown.Guard()
	defer guard.Release()

	start := time.Now()
	defer func() { k.health.recordLatency(time.Since(start)) }()

	switch req.Header.MsgType {
	case "execute_request":
		_ = k.pub.Status(ctx, req.Header, "busy")
		content := k.handleExecute(ctx, req)
		_ = k.pub.Status(ctx, req.Header, "idle")
		k.reply(ctx, ch, req, "execute_reply", content)

	case "kernel_info_request":
		k.reply(ctx, ch, req, "kernel_info_reply", k.handleKernelInfo())

	case "complete_request":
		k.reply(ctx, ch, req, "complete_reply", map[string]any{"matches": []string{}, "status": "ok"})

	case "inspect_request":
		k.reply(ctx, ch, req, "inspect_reply", map[string]any{"found": false, "status": "ok"})

	case "history_request":
		k.reply(ctx, ch, req, "history_reply", map[string]any{"history": []any{}, "status": "ok"})

	case "comm_info_request":
		k.reply(ctx, ch, req, "comm_info_reply", map[string]any{"comms": map[string]any{}, "status": "ok"})

	case "tool_request":
		k.reply(ctx, ch, req, "tool_reply", k.handleToolRequest(ctx, req))

	case "template_request":
		k.reply(ctx, ch, req, "template_reply", k.handleTemplateRequest(ctx, req))

	case "model_request":
		k.reply(ctx, ch, req, "model_reply", k.handleModelRequest(ctx, req))

	case "memory_request":
		k.reply(ctx, ch, req, "memory_reply", k.handleMemoryRequest(ctx, req))

	case "context_request":
		k.reply(ctx, ch, req, "context_reply", k.handleContextRequest(ctx, req))

	case "interrupt_request":
		if k.cfg.Executor != nil {
			k.cfg.Executor.Interrupt()
		}
		k.reply(ctx, ch, req, "interrupt_reply", map[string]any{})

	case "shutdown_request":
		restart, _ := req.Content["restart"].(bool)
		if k.cfg.Sessions != nil {
			k.cfg.Sessions.AutoPersist(ctx)
		}
		k.shutdown.Begin(RestartFlag(restart))
		k.reply(ctx, ch, req, "shutdown_reply", map[string]any{"restart": restart})

	case "debug_request":
		k.reply(ctx, ch, req, "debug_reply", k.handleDebugRequest(ctx, req))

	case "input_reply":
		k.handleInputReply(req)

	default:
		k.log.Warn().Str("msg_type", req.Header.MsgType).Msg("no handler for msg_type")
	}
}

// errContent converts err into the common error envelope shape every
// generic handler uses: {status:"error", error, error_type, duration_ms},
// plus elapsed_ms when the error carries an elapsed duration.
func errContent(err error, elapsed time.Duration) map[string]any {
	k, _ := kernelerr.As(err)
	content := map[string]any{
		"status":      "error",
		"error":       err.Error(),
		"duration_ms": elapsed.Milliseconds(),
	}
	if k != nil {
		content["error_type"] = string(k.Kind)
		if k.HasElapsed() {
			content["elapsed_ms"] = k.Elapsed.Milliseconds()
		}
	}
	return content
}
