// Package mcp bridges remote MCP servers into the runtime tool registry.
// Each remote tool becomes a local tool whose handler proxies tools/call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harunnryd/sekisho/internal/logger"
	"github.com/harunnryd/sekisho/internal/tool"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultMaxInFlight    = 4

	// Runaway-cursor guard for tools/list enumeration.
	maxToolsPerServer = 4096
)

// transportBuilder is overridden in tests to inject in-memory transports.
var transportBuilder = func(endpoint string) mcpsdk.Transport {
	return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}
}

type Config struct {
	Endpoints      []string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxInFlight    int
}

func (c *Config) normalize() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
}

type remoteServer struct {
	endpoint string
	session  *mcpsdk.ClientSession

	// exposed maps remote tool names to the registered name, which stays
	// stable across refreshes.
	exposed map[string]string
}

// Bridge owns every connected MCP session plus the shared in-flight gate.
type Bridge struct {
	cfg Config

	mu      sync.Mutex
	servers []*remoteServer

	inflight chan struct{}
}

func New(cfg Config) *Bridge {
	cfg.normalize()
	return &Bridge{
		cfg:      cfg,
		inflight: make(chan struct{}, cfg.MaxInFlight),
	}
}

// Connect opens a session to every configured endpoint. Endpoints that fail
// to connect are logged and skipped; the bridge serves whatever connected.
func (b *Bridge) Connect(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, endpoint := range b.cfg.Endpoints {
		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "sekisho", Version: "dev"}, nil)
		cctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		session, err := client.Connect(cctx, transportBuilder(endpoint), nil)
		cancel()
		if err != nil {
			slog.Warn("mcp connect failed", "endpoint", endpoint, "error", err)
			continue
		}
		b.servers = append(b.servers, &remoteServer{
			endpoint: endpoint,
			session:  session,
			exposed:  make(map[string]string),
		})
		slog.Info("mcp connected", "endpoint", endpoint)
	}
}

func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, srv := range b.servers {
		_ = srv.session.Close()
	}
	b.servers = nil
}

func (b *Bridge) ServerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.servers)
}

// RefreshReport summarizes one tool (re-)enumeration pass.
type RefreshReport struct {
	OK         bool             `json:"ok"`
	Servers    int              `json:"servers"`
	Registered int              `json:"registered"`
	Errors     []map[string]any `json:"errors"`
}

// RegisterTools enumerates every connected server and registers each remote
// tool into reg. Name collisions with already-registered tools get the
// "mcp<N>." prefix, N being the 1-based server index.
func (b *Bridge) RegisterTools(ctx context.Context, reg *tool.Registry) RefreshReport {
	b.mu.Lock()
	servers := make([]*remoteServer, len(b.servers))
	copy(servers, b.servers)
	b.mu.Unlock()

	report := RefreshReport{OK: true, Servers: len(servers), Errors: []map[string]any{}}
	for i, srv := range servers {
		rctx, cancel := context.WithTimeout(ctx, b.cfg.ReadTimeout)
		count := 0
		var listErr error
		for t, err := range srv.session.Tools(rctx, nil) {
			if err != nil {
				listErr = err
				break
			}
			if t.Name == "" {
				continue
			}
			if count >= maxToolsPerServer {
				break
			}
			count++
			b.registerRemote(reg, srv, i, t)
			report.Registered++
		}
		cancel()
		if listErr != nil {
			report.Errors = append(report.Errors, map[string]any{"server": i + 1, "error": listErr.Error()})
		}
	}
	return report
}

func (b *Bridge) registerRemote(reg *tool.Registry, srv *remoteServer, serverIndex int, t *mcpsdk.Tool) {
	b.mu.Lock()
	exposed, known := srv.exposed[t.Name]
	if !known {
		exposed = t.Name
		if reg.Has(exposed) {
			exposed = fmt.Sprintf("mcp%d.%s", serverIndex+1, t.Name)
		}
		srv.exposed[t.Name] = exposed
	}
	b.mu.Unlock()

	desc := t.Description
	if desc == "" {
		desc = t.Title
	}
	schema := tool.Schema{
		Name:        exposed,
		Description: desc,
		Parameters:  asMap(t.InputSchema),
	}
	remote := t.Name
	reg.Register(schema, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		return b.call(ctx, srv, callID, exposed, remote, args)
	})
}

// call proxies one tools/call through the in-flight gate.
func (b *Bridge) call(ctx context.Context, srv *remoteServer, callID, exposed, remote string, args map[string]any) tool.Result {
	r, err := b.callWire(ctx, srv, callID, exposed, remote, args)
	if err != nil {
		r = tool.Failure("mcp: call failed: " + err.Error())
		logResult(callID, exposed, remote, r)
	}
	return r
}

// callWire performs the wire call; err reports transport-level failure only.
// A tool-level error comes back as a result with isError set.
func (b *Bridge) callWire(ctx context.Context, srv *remoteServer, callID, exposed, remote string, args map[string]any) (tool.Result, error) {
	select {
	case b.inflight <- struct{}{}:
		defer func() { <-b.inflight }()
	default:
		return tool.Failure("mcp: too many in-flight requests"), nil
	}

	logCall(callID, exposed, remote, args)
	rctx, cancel := context.WithTimeout(ctx, b.cfg.ReadTimeout)
	defer cancel()
	res, err := srv.session.CallTool(rctx, &mcpsdk.CallToolParams{Name: remote, Arguments: args})
	if err != nil {
		return nil, err
	}
	r := resultToMap(res)
	logResult(callID, exposed, remote, r)
	return r, nil
}

// CallRemote tries the named remote tool on every connected server in order
// and returns the first wire-level success, even when the tool itself
// reports an error result. Safe on a nil bridge.
func (b *Bridge) CallRemote(ctx context.Context, callID, name string, args map[string]any) (tool.Result, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	servers := make([]*remoteServer, len(b.servers))
	copy(servers, b.servers)
	b.mu.Unlock()

	for _, srv := range servers {
		r, err := b.callWire(ctx, srv, callID, name, name, args)
		if err != nil {
			continue
		}
		return r, true
	}
	return nil, false
}

func resultToMap(res *mcpsdk.CallToolResult) tool.Result {
	contents := make([]any, 0, len(res.Content))
	firstText := ""
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if firstText == "" {
				firstText = tc.Text
			}
			contents = append(contents, map[string]any{"type": "text", "text": tc.Text})
		}
	}
	out := tool.Result{"ok": !res.IsError, "content": contents}
	if res.IsError {
		out["isError"] = true
		// The loop and the trace look for "error" on failed results.
		if firstText != "" {
			out["error"] = firstText
		}
	}
	return out
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	// Schemas may arrive as any JSON-marshalable value; round-trip them.
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func logCall(callID, exposed, remote string, args map[string]any) {
	raw, _ := json.Marshal(args)
	slog.Info("mcp call", "id", callID, "tool", exposed, "remote", remote, "args", logger.SanitizeJSON(raw))
}

func logResult(callID, exposed, remote string, r tool.Result) {
	slog.Info("mcp result", "id", callID, "tool", exposed, "remote", remote, "ok", r.OK(),
		"result", logger.Truncate(r.JSON()))
}
