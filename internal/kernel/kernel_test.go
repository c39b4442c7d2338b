package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/protocol"
	"github.com/llmkernel/kernel/internal/scriptexec"
	"github.com/llmkernel/kernel/internal/transport"
)

// recordingTools is a capability.ToolInvoker stub that appends a
// marker to a shared, mutex-protected order slice on Invoke, for
// asserting cross-channel dispatch ordering (S5).
type recordingTools struct {
	mu    *sync.Mutex
	order *[]string
}

func (r *recordingTools) Invoke(ctx context.Context, name string, params map[string]any) capability.ToolResult {
	r.mu.Lock()
	*r.order = append(*r.order, "shell:"+name)
	r.mu.Unlock()
	return capability.ToolResult{Output: "ok"}
}
func (r *recordingTools) Exists(name string) bool { return name == "echo" }
func (r *recordingTools) Names() []string         { return []string{"echo"} }

type notFoundTools struct{}

func (notFoundTools) Invoke(ctx context.Context, name string, params map[string]any) capability.ToolResult {
	return capability.ToolResult{}
}
func (notFoundTools) Exists(name string) bool { return false }
func (notFoundTools) Names() []string         { return nil }

func newTestKernel(t *testing.T, cfg Config) (*Kernel, *transport.InProcess) {
	t.Helper()
	kernelSide, clientSide := transport.NewInProcessPair()
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))
	k := New(kernelSide, codec, cfg, zerolog.Nop())
	return k, clientSide
}

func sendRequest(t *testing.T, client *transport.InProcess, codec *protocol.Codec, channel protocol.Channel, msgType string, content map[string]any) protocol.Header {
	t.Helper()
	msg := protocol.NewMessage(msgType, protocol.Header{Session: "test-session"}, content)
	frames, err := codec.Build(msg)
	if err != nil {
		t.Fatalf("build %s: %v", msgType, err)
	}
	if err := client.Send(context.Background(), channel, frames); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
	return msg.Header
}

func recvReply(t *testing.T, client *transport.InProcess, codec *protocol.Codec, channel protocol.Channel, timeout time.Duration) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	frames, err := client.Recv(ctx, channel)
	if err != nil {
		t.Fatalf("recv on %s: %v", channel, err)
	}
	msg, err := codec.Parse(frames)
	if err != nil {
		t.Fatalf("parse reply on %s: %v", channel, err)
	}
	return msg
}

// S1: kernel_info_request round-trips with protocol_version/language_info.
func TestKernel_KernelInfoRoundTrip(t *testing.T) {
	exec := scriptexec.New()
	k, client := newTestKernel(t, Config{Executor: exec})
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	sendRequest(t, client, codec, protocol.ChannelShell, "kernel_info_request", map[string]any{})
	reply := recvReply(t, client, codec, protocol.ChannelShell, 2*time.Second)

	if reply.Header.MsgType != "kernel_info_reply" {
		t.Fatalf("msg_type = %q, want kernel_info_reply", reply.Header.MsgType)
	}
	if reply.Content["protocol_version"] != protocol.ProtocolVersion {
		t.Fatalf("protocol_version = %v, want %s", reply.Content["protocol_version"], protocol.ProtocolVersion)
	}
	langInfo, ok := reply.Content["language_info"].(map[string]any)
	if !ok || langInfo["name"] != "starlark" {
		t.Fatalf("language_info = %#v, want name=starlark", reply.Content["language_info"])
	}
}

// S2: execute happy path publishes status=busy, execute_result,
// status=idle on IOPub sharing the same parent_header, and the
// execute_reply carries an execution_count.
func TestKernel_ExecuteHappyPath(t *testing.T) {
	exec := scriptexec.New()
	k, client := newTestKernel(t, Config{Executor: exec})
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	reqHeader := sendRequest(t, client, codec, protocol.ChannelShell, "execute_request", map[string]any{
		"code": "1 + 1", "silent": false,
	})

	busy := recvReply(t, client, codec, protocol.ChannelIOPub, 2*time.Second)
	if busy.Header.MsgType != "status" || busy.Content["execution_state"] != "busy" {
		t.Fatalf("first iopub message = %#v, want status=busy", busy.Content)
	}
	if busy.ParentHeader.MsgID != reqHeader.MsgID {
		t.Fatalf("busy parent_header.msg_id = %s, want %s", busy.ParentHeader.MsgID, reqHeader.MsgID)
	}

	input := recvReply(t, client, codec, protocol.ChannelIOPub, 2*time.Second)
	if input.Header.MsgType != "execute_input" {
		t.Fatalf("second iopub message = %q, want execute_input", input.Header.MsgType)
	}

	result := recvReply(t, client, codec, protocol.ChannelIOPub, 2*time.Second)
	if result.Header.MsgType != "execute_result" {
		t.Fatalf("third iopub message = %q, want execute_result", result.Header.MsgType)
	}
	data, _ := result.Content["data"].(map[string]any)
	if data["text/plain"] != "2" {
		t.Fatalf("execute_result data = %#v, want text/plain=2", result.Content["data"])
	}

	idle := recvReply(t, client, codec, protocol.ChannelIOPub, 2*time.Second)
	if idle.Header.MsgType != "status" || idle.Content["execution_state"] != "idle" {
		t.Fatalf("fourth iopub message = %#v, want status=idle", idle.Content)
	}
	if idle.ParentHeader.MsgID != reqHeader.MsgID {
		t.Fatalf("idle parent_header.msg_id = %s, want %s", idle.ParentHeader.MsgID, reqHeader.MsgID)
	}

	reply := recvReply(t, client, codec, protocol.ChannelShell, 2*time.Second)
	if reply.Header.MsgType != "execute_reply" || reply.Content["status"] != "ok" {
		t.Fatalf("execute_reply = %#v, want status=ok", reply.Content)
	}
	if _, ok := reply.Content["execution_count"]; !ok {
		t.Fatalf("execute_reply missing execution_count: %#v", reply.Content)
	}
}

// S3: an execute_request that exceeds ExecutionTimeout aborts, and the
// next execute_request still succeeds with execution_count N+1.
func TestKernel_ExecuteTimeoutThenRecovers(t *testing.T) {
	exec := scriptexec.New()
	k, client := newTestKernel(t, Config{Executor: exec, ExecutionTimeout: 200 * time.Millisecond})
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	sendRequest(t, client, codec, protocol.ChannelShell, "execute_request", map[string]any{
		"code": "x = 0\nfor i in range(100000000):\n    x += i\n_ = x", "silent": true,
	})

	abortedReply := recvReply(t, client, codec, protocol.ChannelShell, 3*time.Second)
	if abortedReply.Header.MsgType != "execute_reply" {
		t.Fatalf("msg_type = %q, want execute_reply", abortedReply.Header.MsgType)
	}
	if abortedReply.Content["status"] != "aborted" {
		t.Fatalf("status = %v, want aborted", abortedReply.Content["status"])
	}
	firstCount, _ := abortedReply.Content["execution_count"].(float64)

	sendRequest(t, client, codec, protocol.ChannelShell, "execute_request", map[string]any{
		"code": "2 + 2", "silent": true,
	})
	okReply := recvReply(t, client, codec, protocol.ChannelShell, 3*time.Second)
	if okReply.Header.MsgType != "execute_reply" {
		t.Fatalf("msg_type = %q, want execute_reply", okReply.Header.MsgType)
	}
	if okReply.Content["status"] != "ok" {
		t.Fatalf("status = %v, want ok", okReply.Content["status"])
	}
	secondCount, _ := okReply.Content["execution_count"].(float64)
	if secondCount != firstCount+1 {
		t.Fatalf("execution_count = %v, want %v", secondCount, firstCount+1)
	}
}

// S4: tool_request invoke of an unregistered tool replies
// {status:error, tool, error, error_type:not_found, duration_ms}.
func TestKernel_ToolInvokeNotFound(t *testing.T) {
	exec := scriptexec.New()
	k, client := newTestKernel(t, Config{Executor: exec, Tools: notFoundTools{}})
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	sendRequest(t, client, codec, protocol.ChannelShell, "tool_request", map[string]any{
		"command": "invoke", "name": "nonexistent",
	})
	reply := recvReply(t, client, codec, protocol.ChannelShell, 2*time.Second)

	if reply.Header.MsgType != "tool_reply" {
		t.Fatalf("msg_type = %q, want tool_reply", reply.Header.MsgType)
	}
	if reply.Content["status"] != "error" {
		t.Fatalf("status = %v, want error", reply.Content["status"])
	}
	if reply.Content["error_type"] != "not_found" {
		t.Fatalf("error_type = %v, want not_found", reply.Content["error_type"])
	}
	if _, ok := reply.Content["error"]; !ok {
		t.Fatal("reply missing error field")
	}
}

// S5: within one tick, control-channel messages dispatch before
// shell-channel messages.
func TestKernel_ControlPreemptsShellWithinOneTick(t *testing.T) {
	var mu sync.Mutex
	var order []string

	exec := &recordingExecutor{Executor: scriptexec.New(), mu: &mu, order: &order}
	k, client := newTestKernel(t, Config{Executor: exec, Tools: &recordingTools{mu: &mu, order: &order}})
	codec := protocol.NewCodec("hmac-sha256", []byte("test-key"))

	// Enqueue both before ticking so one tick call observes both.
	sendRequest(t, client, codec, protocol.ChannelShell, "tool_request", map[string]any{
		"command": "invoke", "name": "echo",
	})
	sendRequest(t, client, codec, protocol.ChannelControl, "interrupt_request", map[string]any{})

	k.tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Fatalf("order = %v, want 2 entries", order)
	}
	if order[0] != "control:interrupt" {
		t.Fatalf("order[0] = %q, want control:interrupt (control must preempt shell)", order[0])
	}
	if order[1] != "shell:echo" {
		t.Fatalf("order[1] = %q, want shell:echo", order[1])
	}
}

type recordingExecutor struct {
	*scriptexec.Executor
	mu    *sync.Mutex
	order *[]string
}

func (r *recordingExecutor) Interrupt() {
	r.mu.Lock()
	*r.order = append(*r.order, "control:interrupt")
	r.mu.Unlock()
	r.Executor.Interrupt()
}
