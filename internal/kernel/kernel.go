// Package kernel wires every collaborator capability into the
// cooperative message loop: the wire codec, transport, IOPub
// publisher, state store, agent bridge, tool/template/model
// registries, and script executor. It is the primary deliverable the
// rest of the module exists to support.
package kernel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmkernel/kernel/internal/agent"
	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/iopub"
	"github.com/llmkernel/kernel/internal/protocol"
	"github.com/llmkernel/kernel/internal/state"
	"github.com/llmkernel/kernel/internal/transport"
)

// Config configures a Kernel's ambient limits and collaborators.
// Collaborator fields may be nil; handlers that depend on a nil
// collaborator return a KindConfiguration error instead of panicking.
type Config struct {
	KernelName string

	ExecutionTimeout   time.Duration // default for execute_request
	ToolTimeout        time.Duration // default for tool_request invoke
	TemplateTimeout    time.Duration // template/model exec/pull
	InputRequestTimeout time.Duration

	MaxMemoryMB        float64
	MaxCPUPercent      float64
	MaxAvgLatencyMicros int64
	MaxErrorRatePerMin  float64

	ShutdownGrace time.Duration

	Executor      capability.ScriptExecutor
	Providers     capability.ProviderManager
	Tools         capability.ToolInvoker
	Templates     capability.TemplateRegistry
	Models        capability.ModelManager
	HealthProbe   capability.HealthProbe
	Debugger      capability.DebugBridge
	Sessions      capability.SessionPersister
	Bridge        *agent.Bridge
	Store         *state.Store
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ExecutionTimeout == 0 {
		out.ExecutionTimeout = 30 * time.Second
	}
	if out.ToolTimeout == 0 {
		out.ToolTimeout = 30 * time.Second
	}
	if out.TemplateTimeout == 0 {
		out.TemplateTimeout = 900 * time.Second
	}
	if out.InputRequestTimeout == 0 {
		out.InputRequestTimeout = 120 * time.Second
	}
	if out.ShutdownGrace == 0 {
		out.ShutdownGrace = 10 * time.Second
	}
	if out.MaxMemoryMB == 0 {
		out.MaxMemoryMB = 2048
	}
	if out.MaxCPUPercent == 0 {
		out.MaxCPUPercent = 90
	}
	if out.MaxAvgLatencyMicros == 0 {
		out.MaxAvgLatencyMicros = 500_000
	}
	if out.MaxErrorRatePerMin == 0 {
		out.MaxErrorRatePerMin = 60
	}
	if out.KernelName == "" {
		out.KernelName = "llmkernel"
	}
	return out
}

// Kernel is one running kernel instance: one message loop task bound
// to a Transport, dispatching to the configured collaborators.
type Kernel struct {
	cfg    Config
	log    zerolog.Logger
	tr     transport.Transport
	poller transport.Poller // nil if tr does not support non-blocking polling
	codec  *protocol.Codec
	pub    *iopub.Publisher

	executionCount int64 // atomic

	shutdown *Coordinator
	health   *Monitor
	inbox    *stdinWaiter

	identityMu sync.Mutex
	identities map[string][]byte // client session id -> last seen routing identity
}

// New builds a Kernel bound to tr, signing/verifying with codec, and
// dispatching to cfg's collaborators. log should already carry any
// process-wide fields (pid, kernel_name).
func New(tr transport.Transport, codec *protocol.Codec, cfg Config, log zerolog.Logger) *Kernel {
	cfg = cfg.withDefaults()
	k := &Kernel{
		cfg:        cfg,
		log:        log,
		tr:         tr,
		codec:      codec,
		shutdown:   newCoordinator(cfg.ShutdownGrace),
		inbox:      newStdinWaiter(),
		identities: make(map[string][]byte),
	}
	if p, ok := tr.(transport.Poller); ok {
		k.poller = p
	}
	sender := &senderAdapter{tr: tr}
	k.pub = iopub.NewPublisher(sender, codec)
	k.health = newMonitor(cfg)
	return k
}

type senderAdapter struct{ tr transport.Transport }

func (s *senderAdapter) Send(ctx context.Context, channel protocol.Channel, frames [][]byte) error {
	return s.tr.Send(ctx, channel, frames)
}

// nextExecutionCount increments and returns the kernel's monotonic
// execution counter.
func (k *Kernel) nextExecutionCount() int {
	return int(atomic.AddInt64(&k.executionCount, 1))
}

// KernelInfo returns kernel_info_reply's content, for HTTP tooling
// parity with the wire protocol's kernel_info_request.
func (k *Kernel) KernelInfo() map[string]any {
	return k.handleKernelInfo()
}

// HealthCheck returns health_check's content (quick_health_check plus
// system info), for HTTP tooling parity.
func (k *Kernel) HealthCheck(ctx context.Context) map[string]any {
	return k.health.FullCheck(ctx)
}

// Run drives the cooperative message loop until ctx is cancelled or
// the shutdown coordinator reaches Shutdown. It never spawns the
// script executor: Execute runs inline on this goroutine.
func (k *Kernel) Run(ctx context.Context) error {
	defer k.pub.Close()
	k.log.Info().Str("kernel_name", k.cfg.KernelName).Msg("kernel loop starting")

	idleSleep := 10 * time.Millisecond
	if k.poller == nil {
		idleSleep = 50 * time.Millisecond
	}

	for {
		if k.shutdown.State() == StateShutdown {
			return nil
		}
		select {
		case <-ctx.Done():
			k.shutdown.Begin(RestartNone)
			return ctx.Err()
		default:
		}

		busy := k.tick(ctx)
		if k.shutdown.shouldExit() {
			return nil
		}
		if !busy {
			time.Sleep(idleSleep)
		}
	}
}

// tick processes at most one pending message per channel, in the
// fixed control -> shell -> stdin -> heartbeat order, and reports
// whether anything was processed.
func (k *Kernel) tick(ctx context.Context) bool {
	busy := false
	for _, ch := range []protocol.Channel{protocol.ChannelControl, protocol.ChannelShell, protocol.ChannelStdin} {
		frames, ok := k.tryRecv(ch)
		if !ok {
			continue
		}
		busy = true
		k.health.recordActivity(ch)

		msg, err := k.codec.Parse(frames)
		if err != nil {
			k.log.Warn().Err(err).Str("channel", string(ch)).Msg("discarding malformed message")
			continue
		}
		if !channelAllows(ch, msg.Header.MsgType) {
			k.log.Warn().Str("channel", string(ch)).Str("msg_type", msg.Header.MsgType).Msg("msg_type not allowed on channel")
			continue
		}
		k.dispatch(ctx, ch, msg)
	}

	if hb, ok := k.tryRecv(protocol.ChannelHeartbeat); ok {
		busy = true
		k.health.recordActivity(protocol.ChannelHeartbeat)
		_ = k.tr.Send(ctx, protocol.ChannelHeartbeat, hb)
	}
	return busy
}

func (k *Kernel) tryRecv(ch protocol.Channel) ([][]byte, bool) {
	if k.poller != nil {
		frames, ok, err := k.poller.TryRecv(ch)
		if err != nil {
			k.log.Warn().Err(err).Str("channel", string(ch)).Msg("recv error")
			return nil, false
		}
		return frames, ok
	}
	return nil, false
}

var allowList = map[protocol.Channel]map[string]bool{
	protocol.ChannelShell: setOf(
		"execute_request", "kernel_info_request", "complete_request", "inspect_request",
		"history_request", "comm_info_request", "tool_request", "template_request",
		"model_request", "memory_request", "context_request",
	),
	protocol.ChannelControl: setOf("interrupt_request", "shutdown_request", "debug_request"),
	protocol.ChannelStdin:   setOf("input_reply"),
}

func setOf(items ...string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func channelAllows(ch protocol.Channel, msgType string) bool {
	allowed, ok := allowList[ch]
	return ok && allowed[msgType]
}

// reply builds and sends the msgType reply on ch, parented on req and
// addressed to req's routing identities.
func (k *Kernel) reply(ctx context.Context, ch protocol.Channel, req *protocol.Message, msgType string, content map[string]any) {
	msg := protocol.NewMessage(msgType, req.Header, content)
	msg.Identities = req.Identities
	frames, err := k.codec.Build(msg)
	if err != nil {
		k.log.Error().Err(err).Str("msg_type", msgType).Msg("failed to build reply")
		return
	}
	if err := k.tr.Send(ctx, ch, frames); err != nil {
		k.log.Error().Err(err).Str("msg_type", msgType).Msg("failed to send reply")
	}
}
