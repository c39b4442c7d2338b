package kernel

import (
	"context"
	"strings"
	"time"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/kernelerr"
	"github.com/llmkernel/kernel/internal/protocol"
	"github.com/llmkernel/kernel/pkg/types"
)

// withTimeout runs fn under d and converts a ctx-deadline expiry into a
// KindTimeout error carrying the elapsed duration, per §4.6.
func withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) (map[string]any, error)) map[string]any {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		content map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := fn(cctx)
		done <- outcome{content, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errContent(o.err, time.Since(start))
		}
		if o.content == nil {
			o.content = map[string]any{}
		}
		o.content["status"] = "ok"
		return o.content
	case <-cctx.Done():
		return errContent(kernelerr.Timeout("deadline exceeded after %s", d), time.Since(start))
	}
}

// --- tool_request -----------------------------------------------------

func (k *Kernel) handleToolRequest(ctx context.Context, req *protocol.Message) map[string]any {
	var in struct {
		Command string         `json:"command"`
		Name    string         `json:"name"`
		Params  map[string]any `json:"params"`
		Query   string         `json:"query"`
	}
	if err := req.DecodeContent(&in); err != nil {
		return errContent(kernelerr.Validation("invalid tool_request content: %v", err), 0)
	}
	if k.cfg.Tools == nil {
		return errContent(kernelerr.Configuration("no tool registry configured"), 0)
	}

	switch in.Command {
	case "list":
		return map[string]any{"status": "ok", "tools": k.cfg.Tools.Names()}

	case "info":
		if in.Name == "" {
			return errContent(kernelerr.Validation("info requires name"), 0)
		}
		if !k.cfg.Tools.Exists(in.Name) {
			return errContent(kernelerr.NotFound("tool %q not found", in.Name), 0)
		}
		return map[string]any{"status": "ok", "tool": in.Name}

	case "search":
		var matches []string
		for _, name := range k.cfg.Tools.Names() {
			if in.Query == "" || strings.Contains(strings.ToLower(name), strings.ToLower(in.Query)) {
				matches = append(matches, name)
			}
		}
		return map[string]any{"status": "ok", "tools": matches}

	case "test":
		if in.Name == "" {
			return errContent(kernelerr.Validation("test requires name"), 0)
		}
		return map[string]any{"status": "ok", "tool": in.Name, "exists": k.cfg.Tools.Exists(in.Name)}

	case "invoke":
		if in.Name == "" {
			return errContent(kernelerr.Validation("invoke requires name"), 0)
		}
		if !k.cfg.Tools.Exists(in.Name) {
			return errContent(kernelerr.NotFound("tool %q not found", in.Name), 0)
		}
		return withTimeout(ctx, k.cfg.ToolTimeout, func(cctx context.Context) (map[string]any, error) {
			start := time.Now()
			res := k.cfg.Tools.Invoke(cctx, in.Name, in.Params)
			if res.Err != nil {
				return nil, kernelerr.Execution(res.Err, "tool %q failed", in.Name)
			}
			return map[string]any{
				"tool": in.Name, "result": res.Output,
				"duration_ms": time.Since(start).Milliseconds(), "streaming": false,
			}, nil
		})

	default:
		return errContent(kernelerr.Validation("unknown tool command %q", in.Command), 0)
	}
}

// --- template_request --------------------------------------------------

func (k *Kernel) handleTemplateRequest(ctx context.Context, req *protocol.Message) map[string]any {
	var in struct {
		Command    string         `json:"command"`
		Name       string         `json:"name"`
		Params     map[string]any `json:"params"`
		Query      string         `json:"query"`
		ShowSchema bool           `json:"show_schema"`
	}
	if err := req.DecodeContent(&in); err != nil {
		return errContent(kernelerr.Validation("invalid template_request content: %v", err), 0)
	}
	if k.cfg.Templates == nil {
		return errContent(kernelerr.Configuration("no template registry configured"), 0)
	}

	switch in.Command {
	case "list":
		var names []string
		for _, t := range k.cfg.Templates.List() {
			names = append(names, t.Name)
		}
		return map[string]any{"status": "ok", "templates": names}

	case "info", "schema":
		info, ok := k.cfg.Templates.Get(in.Name)
		if !ok {
			return errContent(kernelerr.NotFound("template %q not found", in.Name), 0)
		}
		content := map[string]any{"status": "ok", "name": info.Name, "description": info.Description}
		if in.Command == "schema" || in.ShowSchema {
			content["schema"] = info.Schema
		}
		return content

	case "search":
		var names []string
		for _, t := range k.cfg.Templates.Search(in.Query) {
			names = append(names, t.Name)
		}
		return map[string]any{"status": "ok", "templates": names}

	case "exec":
		if in.Name == "" {
			return errContent(kernelerr.Validation("exec requires name"), 0)
		}
		if _, ok := k.cfg.Templates.Get(in.Name); !ok {
			return errContent(kernelerr.NotFound("template %q not found", in.Name), 0)
		}
		return withTimeout(ctx, k.cfg.TemplateTimeout, func(cctx context.Context) (map[string]any, error) {
			out, err := k.cfg.Templates.Run(cctx, in.Name, in.Params)
			if err != nil {
				return nil, kernelerr.Execution(err, "template %q failed", in.Name)
			}
			return map[string]any{"result": out.Result, "artifacts": map[string]any{}, "metrics": out.Metrics}, nil
		})

	default:
		return errContent(kernelerr.Validation("unknown template command %q", in.Command), 0)
	}
}

// --- model_request -------------------------------------------------

func (k *Kernel) handleModelRequest(ctx context.Context, req *protocol.Message) map[string]any {
	var in struct {
		Command string `json:"command"`
		Backend string `json:"backend"`
		Model   string `json:"model"`
	}
	if err := req.DecodeContent(&in); err != nil {
		return errContent(kernelerr.Validation("invalid model_request content: %v", err), 0)
	}
	if k.cfg.Models == nil {
		return errContent(kernelerr.Configuration("no model manager configured"), 0)
	}

	switch in.Command {
	case "list":
		return map[string]any{"status": "ok", "models": k.cfg.Models.ListLocalModels()}

	case "status":
		p, ok := k.cfg.Models.Status(in.Backend, in.Model)
		if !ok {
			return errContent(kernelerr.NotFound("no pull in progress for %s/%s", in.Backend, in.Model), 0)
		}
		return pullProgressContent(p)

	case "info":
		info, ok := k.cfg.Models.Info(in.Backend, in.Model)
		if !ok {
			return errContent(kernelerr.NotFound("model %s/%s not found", in.Backend, in.Model), 0)
		}
		return map[string]any{"status": "ok", "info": info}

	case "pull":
		if in.Backend == "" || in.Model == "" {
			return errContent(kernelerr.Validation("pull requires backend and model"), 0)
		}
		return withTimeout(ctx, k.cfg.TemplateTimeout, func(cctx context.Context) (map[string]any, error) {
			progress, err := k.cfg.Models.Pull(cctx, in.Backend, in.Model)
			if err != nil {
				return nil, kernelerr.Execution(err, "pull %s/%s failed", in.Backend, in.Model)
			}
			var last capability.PullProgress
			for p := range progress {
				last = p
				if p.Status == capability.DownloadFailed {
					return nil, kernelerr.Execution(nil, "pull %s/%s failed", in.Backend, in.Model)
				}
			}
			content := pullProgressContent(last)
			delete(content, "status")
			return content, nil
		})

	default:
		return errContent(kernelerr.Validation("unknown model command %q", in.Command), 0)
	}
}

func pullProgressContent(p capability.PullProgress) map[string]any {
	return map[string]any{
		"status":           "ok",
		"model_id":         p.ModelID,
		"download_status":  string(p.Status),
		"percent_complete": p.PercentComplete,
		"bytes_downloaded": p.BytesDownloaded,
		"bytes_total":      p.BytesTotal,
	}
}

// --- memory_request ---------------------------------------------------
//
// memory_request addresses the AgentBridge's process-wide shared-memory
// map (scope, key), distinct from the state store: {command: "get" |
// "set" | "delete", scope, key, value?}.

func (k *Kernel) handleMemoryRequest(ctx context.Context, req *protocol.Message) map[string]any {
	var in struct {
		Command string `json:"command"`
		Scope   string `json:"scope"`
		Key     string `json:"key"`
		Value   any    `json:"value"`
	}
	if err := req.DecodeContent(&in); err != nil {
		return errContent(kernelerr.Validation("invalid memory_request content: %v", err), 0)
	}
	if k.cfg.Bridge == nil {
		return errContent(kernelerr.Configuration("no agent bridge configured"), 0)
	}
	scope := memoryScope(in.Scope)

	switch in.Command {
	case "get":
		if in.Key == "" {
			return errContent(kernelerr.Validation("get requires key"), 0)
		}
		value, ok := k.cfg.Bridge.GetShared(scope, in.Key)
		if !ok {
			return errContent(kernelerr.NotFound("no value at %s/%s", scope, in.Key), 0)
		}
		return map[string]any{"status": "ok", "value": value}

	case "set":
		if in.Key == "" {
			return errContent(kernelerr.Validation("set requires key"), 0)
		}
		k.cfg.Bridge.SetShared(scope, in.Key, in.Value)
		return map[string]any{"status": "ok"}

	case "delete":
		if in.Key == "" {
			return errContent(kernelerr.Validation("delete requires key"), 0)
		}
		k.cfg.Bridge.SetShared(scope, in.Key, nil)
		return map[string]any{"status": "ok"}

	default:
		return errContent(kernelerr.Validation("unknown memory command %q", in.Command), 0)
	}
}

func memoryScope(s string) types.Scope {
	if s == "" {
		return types.Global
	}
	return types.CustomScope(s)
}

// --- context_request ----------------------------------------------
//
// context_request manages AgentBridge execution contexts:
// {command: "create" | "create_child", instance, conversation_id?,
// user_id?, session_id?, policy?, parent_id?}.

func (k *Kernel) handleContextRequest(ctx context.Context, req *protocol.Message) map[string]any {
	var in struct {
		Command        string `json:"command"`
		Instance       string `json:"instance"`
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		SessionID      string `json:"session_id"`
		Policy         string `json:"policy"`
		ParentID       string `json:"parent_id"`
	}
	if err := req.DecodeContent(&in); err != nil {
		return errContent(kernelerr.Validation("invalid context_request content: %v", err), 0)
	}
	if k.cfg.Bridge == nil {
		return errContent(kernelerr.Configuration("no agent bridge configured"), 0)
	}
	if in.Instance == "" {
		return errContent(kernelerr.Validation("context request requires instance"), 0)
	}

	switch in.Command {
	case "create":
		ec, err := k.cfg.Bridge.CreateContext(in.Instance, in.ConversationID, in.UserID, in.SessionID, types.InheritancePolicy(in.Policy))
		if err != nil {
			return errContent(kernelerr.NotFound("%v", err), 0)
		}
		return map[string]any{"status": "ok", "context_id": ec.ID}

	case "create_child":
		if in.ParentID == "" {
			return errContent(kernelerr.Validation("create_child requires parent_id"), 0)
		}
		child, err := k.cfg.Bridge.CreateChildContext(in.Instance, in.ParentID)
		if err != nil {
			return errContent(kernelerr.NotFound("%v", err), 0)
		}
		return map[string]any{"status": "ok", "context_id": child.ID, "parent_id": in.ParentID}

	default:
		return errContent(kernelerr.Validation("unknown context command %q", in.Command), 0)
	}
}
