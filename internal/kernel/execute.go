package kernel

import (
	"context"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
)

type executeRequest struct {
	Code             string         `json:"code"`
	Silent           bool           `json:"silent"`
	StoreHistory     bool           `json:"store_history"`
	UserExpressions  map[string]any `json:"user_expressions"`
	AllowStdin       bool           `json:"allow_stdin"`
}

// handleExecute implements execute_request (§4.5): run code inline on
// this goroutine under ExecutionTimeout, streaming IOPub notifications
// as it goes, and returns the execute_reply content. status is one of
// "ok", "error", or "aborted" (on timeout).
func (k *Kernel) handleExecute(ctx context.Context, req *protocol.Message) map[string]any {
	var in executeRequest
	if err := req.DecodeContent(&in); err != nil {
		k.health.recordError()
		return map[string]any{
			"status": "error", "ename": "ValidationError",
			"evalue": err.Error(), "traceback": []string{},
		}
	}

	count := k.nextExecutionCount()
	if !in.Silent {
		_ = k.pub.ExecuteInput(ctx, req.Header, in.Code, count)
	}

	if k.cfg.Executor == nil {
		err := kernelerr.Configuration("no script executor configured")
		k.health.recordError()
		_ = k.pub.Error(ctx, req.Header, "ConfigurationError", err.Error(), nil)
		return map[string]any{
			"status": "error", "ename": "ConfigurationError",
			"evalue": err.Error(), "traceback": []string{}, "execution_count": count,
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, k.cfg.ExecutionTimeout)
	defer cancel()

	stopInterrupt := context.AfterFunc(execCtx, k.cfg.Executor.Interrupt)
	result := k.cfg.Executor.Execute(execCtx, in.Code)
	stopInterrupt()

	if execCtx.Err() != nil {
		k.health.recordError()
		return map[string]any{
			"status": "aborted", "execution_count": count,
		}
	}

	if result.Stream != "" && !in.Silent {
		_ = k.pub.Stream(ctx, req.Header, "stdout", result.Stream)
	}
	if result.Err != nil {
		k.health.recordError()
		if !in.Silent {
			_ = k.pub.Error(ctx, req.Header, "ExecutionError", result.Err.Error(), nil)
		}
		return map[string]any{
			"status": "error", "ename": "ExecutionError",
			"evalue": result.Err.Error(), "traceback": []string{}, "execution_count": count,
		}
	}

	if len(result.DisplayData) > 0 && !in.Silent {
		_ = k.pub.DisplayData(ctx, req.Header, result.DisplayData)
	}
	if result.Text != "" && !in.Silent {
		_ = k.pub.ExecuteResult(ctx, req.Header, count, map[string]any{"text/plain": result.Text})
	}

	return map[string]any{
		"status":           "ok",
		"execution_count":  count,
		"user_expressions": map[string]any{},
	}
}

// handleKernelInfo implements kernel_info_request.
func (k *Kernel) handleKernelInfo() map[string]any {
	lang := capability.LanguageInfo{Name: "text"}
	if k.cfg.Executor != nil {
		lang = k.cfg.Executor.Language()
	}
	return map[string]any{
		"protocol_version":       protocol.ProtocolVersion,
		"implementation":         k.cfg.KernelName,
		"implementation_version": "1.0.0",
		"status":                 "ok",
		"language_info": map[string]any{
			"name":           lang.Name,
			"version":        lang.Version,
			"mimetype":       lang.Mimetype,
			"file_extension": lang.FileExtension,
		},
		"banner": k.cfg.KernelName + " kernel",
	}
}
