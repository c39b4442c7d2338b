package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmkernel/kernel/internal/acl"
	"github.com/llmkernel/kernel/internal/agent"
	"github.com/llmkernel/kernel/internal/config"
	"github.com/llmkernel/kernel/internal/httpapi"
	"github.com/llmkernel/kernel/internal/kernel"
	"github.com/llmkernel/kernel/internal/logging"
	"github.com/llmkernel/kernel/internal/mcp"
	"github.com/llmkernel/kernel/internal/modelref"
	"github.com/llmkernel/kernel/internal/protocol"
	"github.com/llmkernel/kernel/internal/provider"
	"github.com/llmkernel/kernel/internal/providerref"
	"github.com/llmkernel/kernel/internal/scriptexec"
	"github.com/llmkernel/kernel/internal/session"
	"github.com/llmkernel/kernel/internal/state"
	"github.com/llmkernel/kernel/internal/storage"
	"github.com/llmkernel/kernel/internal/templatereg"
	"github.com/llmkernel/kernel/internal/tool"
	"github.com/llmkernel/kernel/internal/transport"
	"github.com/llmkernel/kernel/pkg/types"
)

var (
	connectionFile string
	startDir       string
	httpPort       int
	httpEnabled    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Bind the kernel's five ZeroMQ channels and run the message loop",
	Long: `Start reads a Jupyter-style connection file, binds the shell,
control, iopub, stdin, and heartbeat channels over ZeroMQ, and drives
the cooperative message loop until a shutdown_request arrives or the
process receives SIGINT/SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&connectionFile, "connection-file", "f", "", "Path to the Jupyter-style connection file (required)")
	startCmd.Flags().StringVar(&startDir, "directory", "", "Working directory")
	startCmd.Flags().BoolVar(&httpEnabled, "http", false, "Also serve the kernel_info/health HTTP surface")
	startCmd.Flags().IntVar(&httpPort, "http-port", 8090, "Port for the optional HTTP surface")
	_ = startCmd.MarkFlagRequired("connection-file")
}

func runStart(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(startDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if model := GetGlobalModel(); model != "" {
		appConfig.Model = model
	}

	connInfo, err := loadConnectionFile(connectionFile)
	if err != nil {
		return fmt.Errorf("loading connection file: %w", err)
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize some providers")
	}

	toolReg := tool.DefaultRegistry(workDir, store)

	mcpClient := mcp.NewClient()
	for name, mcfg := range appConfig.MCP {
		enabled := mcfg.Enabled == nil || *mcfg.Enabled
		if !enabled {
			continue
		}
		serverCfg := &mcp.Config{
			Enabled:     true,
			Type:        mcp.TransportType(mcfg.Type),
			URL:         mcfg.URL,
			Headers:     mcfg.Headers,
			Command:     mcfg.Command,
			Environment: mcfg.Environment,
			Timeout:     mcfg.Timeout,
		}
		if err := mcpClient.AddServer(ctx, name, serverCfg); err != nil {
			logging.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
			continue
		}
	}
	if mcpClient.ServerCount() > 0 {
		mcp.RegisterMCPTools(mcpClient, toolReg)
		logging.Info().Int("mcpToolCount", len(mcpClient.Tools())).Msg("registered MCP tools")
	}

	templates := templatereg.New()
	providerMgr := providerref.New(providerReg)
	for _, builtin := range templatereg.BuiltIns(providerMgr) {
		templates.Register(builtin.Info, builtin.Run)
	}

	agentTemplates := agent.NewTemplateRegistry()
	agentTemplates.LoadFromConfig(convertAgentConfig(appConfig.Agent))
	bridge := agent.NewBridge(agentTemplates)
	toolReg.RegisterTaskTool(agentTemplates)

	aclChecker := acl.NewChecker()
	sessionMgr := session.NewManager(store, aclChecker, session.Config{
		MaxActiveSessions: appConfig.MaxActiveSessions,
		PersistInterval:   secs(appConfig.PersistIntervalSecs, 60),
		DeleteAfter:       secs(appConfig.DeleteAfterSecs, 24*3600),
		Compress:          true,
	})
	sessionMgr.StartBackgroundTasks(ctx)
	defer sessionMgr.Stop()

	stateStore := state.NewStore(store)

	net := transport.NewNetwork(*connInfo)
	if err := net.Bind(ctx); err != nil {
		return fmt.Errorf("binding transport: %w", err)
	}
	defer net.Close()

	codec := protocol.NewCodec(connInfo.SignatureScheme, []byte(connInfo.Key))

	kcfg := kernel.Config{
		KernelName:          connInfo.KernelName,
		ExecutionTimeout:    secs(appConfig.ExecutionTimeoutSecs, 30),
		ToolTimeout:         secs(appConfig.ToolTimeoutSecs, 30),
		TemplateTimeout:     secs(appConfig.TemplateTimeoutSecs, 900),
		InputRequestTimeout: secs(appConfig.InputTimeoutSecs, 120),
		MaxMemoryMB:         appConfig.MaxMemoryMB,
		MaxCPUPercent:       appConfig.MaxCPUPercent,
		MaxAvgLatencyMicros: appConfig.MaxAvgLatencyUs,
		MaxErrorRatePerMin:  appConfig.MaxErrorRatePerMin,
		Executor:            scriptexec.New(),
		Providers:           providerMgr,
		Tools:               tool.NewInvoker(toolReg, workDir),
		Templates:           templates,
		Models:              modelref.New(),
		Sessions:            sessionMgr,
		Bridge:              bridge,
		Store:               stateStore,
	}

	k := kernel.New(net, codec, kcfg, logging.Logger)

	var httpSrv *http.Server
	if httpEnabled {
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", httpPort),
			Handler: httpapi.NewRouter(k),
		}
		go func() {
			logging.Info().Int("port", httpPort).Msg("http surface listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error().Err(err).Msg("http surface stopped")
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	installSignalBridge(runCtx, cancel, sessionMgr, stateStore)

	logging.Info().
		Str("kernel_name", connInfo.KernelName).
		Interface("bound_ports", net.BoundPorts()).
		Msg("kernel loop starting")

	runErr := k.Run(runCtx)

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if err := mcpClient.Close(); err != nil {
		logging.Warn().Err(err).Msg("error closing MCP servers")
	}

	logging.Info().Msg("kernel stopped")
	return runErr
}

// installSignalBridge maps real OS signals onto the in-band actions
// spec.md's shutdown coordinator expects: SIGTERM/SIGINT request a
// graceful shutdown, SIGUSR1 reloads nothing yet but is logged as a
// config-reload trigger, SIGUSR2 logs the state store's Global-scope
// entry count.
// It polls an atomic flag on a short ticker rather than acting
// directly in the signal handler, so the dump/shutdown work always
// runs on a normal goroutine.
func installSignalBridge(ctx context.Context, cancel context.CancelFunc, sessions *session.Manager, store *state.Store) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	var pendingShutdown, pendingReload, pendingDump int32

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGINT, syscall.SIGTERM:
					atomic.StoreInt32(&pendingShutdown, 1)
				case syscall.SIGUSR1:
					atomic.StoreInt32(&pendingReload, 1)
				case syscall.SIGUSR2:
					atomic.StoreInt32(&pendingDump, 1)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.CompareAndSwapInt32(&pendingShutdown, 1, 0) {
					logging.Info().Msg("signal bridge: shutdown requested")
					sessions.AutoPersist(ctx)
					cancel()
					return
				}
				if atomic.CompareAndSwapInt32(&pendingReload, 1, 0) {
					logging.Info().Msg("signal bridge: config reload requested (no-op: process restart required)")
				}
				if atomic.CompareAndSwapInt32(&pendingDump, 1, 0) {
					dumpState(store)
				}
			}
		}
	}()
}

func dumpState(store *state.Store) {
	entries := store.ListScope(types.Global)
	logging.Info().Str("scope", types.Global.String()).Int("entries", len(entries)).Msg("signal bridge: state dump")
}

func secs(v int64, fallback int64) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// convertAgentConfig adapts the config package's AgentConfig ("provider/model"
// string, pointer scalars) to agent.TemplateConfig's shape.
func convertAgentConfig(in map[string]types.AgentConfig) map[string]agent.TemplateConfig {
	out := make(map[string]agent.TemplateConfig, len(in))
	for name, cfg := range in {
		tc := agent.TemplateConfig{
			Description: cfg.Description,
			Mode:        agent.Mode(cfg.Mode),
			Prompt:      cfg.Prompt,
			Tools:       cfg.Tools,
		}
		if cfg.Model != "" {
			providerID, modelID := provider.ParseModelString(cfg.Model)
			tc.Model = &agent.ModelRef{ProviderID: providerID, ModelID: modelID}
		}
		if cfg.Temperature != nil {
			tc.Temperature = *cfg.Temperature
		}
		if cfg.TopP != nil {
			tc.TopP = *cfg.TopP
		}
		out[name] = tc
	}
	return out
}

func loadConnectionFile(path string) (*types.ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info types.ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing connection file: %w", err)
	}
	if info.Transport == "" {
		info.Transport = "tcp"
	}
	if info.SignatureScheme == "" {
		info.SignatureScheme = "hmac-sha256"
	}
	return &info, nil
}
