package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/sekisho/internal/config"
	"github.com/harunnryd/sekisho/internal/httpapi"
	"github.com/harunnryd/sekisho/internal/mcp"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/provider/llamacpp"
	"github.com/harunnryd/sekisho/internal/provider/ollama"
	"github.com/harunnryd/sekisho/internal/provider/openaicompat"
	"github.com/harunnryd/sekisho/internal/session"
	"github.com/harunnryd/sekisho/internal/tool"
	"github.com/harunnryd/sekisho/internal/tool/builtin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers := buildProviders(cfg)
	providers.Activate(cfg.Runtime.Provider)

	sessions, err := buildSessions(cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	tools := tool.NewRegistry()
	builtin.Register(tools, cfg.Runtime.WorkspaceRoot)
	builtin.RegisterTaskStatus(tools, sessions)

	bridge := buildBridge(ctx, cfg, tools)
	if bridge != nil {
		defer bridge.Close()
	}
	mcp.RegisterIDETools(tools, bridge, cfg.Runtime.WorkspaceRoot)

	router := &httpapi.Router{
		Providers:        providers,
		Sessions:         sessions,
		Tools:            tools,
		Bridge:           bridge,
		PrefixMode:       prefixMode(cfg.Runtime.APIPrefixMode),
		ModelTimeout:     time.Duration(cfg.Runtime.StreamModelTimeoutS) * time.Second,
		ToolTimeout:      time.Duration(cfg.Runtime.StreamToolTimeoutS) * time.Second,
		ProgressInterval: time.Duration(cfg.Runtime.StreamProgressMS) * time.Millisecond,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Runtime.ListenHost, cfg.Runtime.ListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr,
			"provider", cfg.Runtime.Provider, "prefix_mode", cfg.Runtime.APIPrefixMode,
			"tools", len(tools.Names()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// prefixMode maps the config knob onto the router's mount selector. "auto"
// mounts both prefixes.
func prefixMode(mode string) string {
	switch mode {
	case "v1", "api":
		return mode
	default:
		return ""
	}
}

// buildProviders registers every backend. The GGUF runner is always present;
// HTTP backends attach at their configured or default endpoints.
func buildProviders(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry(cfg.Runtime.Provider)

	logs := llamacpp.NewLogBuffer()
	reg.Register(llamacpp.New(cfg.Llama, llamacpp.NewGGUFEngine(logs), logs))

	reg.Register(ollama.New(config.ParseEndpoint(cfg.OllamaHost, config.DefaultOllamaPort)))
	reg.Register(openaicompat.New("mnn", config.ParseEndpoint(cfg.MNNHost, config.DefaultMNNPort)))
	reg.Register(openaicompat.New("lmdeploy", config.ParseEndpoint(cfg.LMDeployHost, config.DefaultLMDeployPort)))
	return reg
}

func buildSessions(cfg *config.Config) (*session.Manager, error) {
	storeType := cfg.Runtime.SessionStoreType
	var store session.Store
	switch storeType {
	case "file":
		fs, err := session.NewFileStore(cfg.Runtime.SessionStorePath)
		if err != nil {
			return nil, err
		}
		store = fs
	case "redis", "minimemory":
		ep := config.ParseEndpoint(cfg.Runtime.SessionStoreEndpoint, config.DefaultRedisPort)
		store = session.NewRedisStore(session.RedisOptions{
			Addr:     ep.Addr(),
			Password: cfg.Runtime.SessionStorePassword,
			DB:       cfg.Runtime.SessionStoreDB,
		})
	default:
		storeType = "memory"
		store = session.NewMemoryStore()
	}

	ns := session.ResolveNamespace(cfg.Runtime.SessionStoreNamespace, storeType, cfg.Runtime.SessionStoreResetOnBoot)
	slog.Info("session store ready", "type", storeType, "namespace", ns)
	return session.NewManager(store, ns), nil
}

// buildBridge connects configured MCP servers and registers their tools.
// Returns nil when no endpoint is configured.
func buildBridge(ctx context.Context, cfg *config.Config, tools *tool.Registry) *mcp.Bridge {
	endpoints := cfg.MCPEndpoints()
	if len(endpoints) == 0 {
		return nil
	}
	urls := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		urls = append(urls, ep.BaseURL())
	}
	bridge := mcp.New(mcp.Config{
		Endpoints:      urls,
		ConnectTimeout: time.Duration(cfg.MCP.ConnectTimeoutS) * time.Second,
		ReadTimeout:    time.Duration(cfg.MCP.ReadTimeoutS) * time.Second,
		WriteTimeout:   time.Duration(cfg.MCP.WriteTimeoutS) * time.Second,
		MaxInFlight:    cfg.MCP.MaxInFlight,
	})
	bridge.Connect(ctx)

	report := bridge.RegisterTools(ctx, tools)
	slog.Info("mcp tools registered", "servers", report.Servers, "registered", report.Registered)
	return bridge
}
