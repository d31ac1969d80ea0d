package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/tool"
)

func startInMemoryServer(t *testing.T, register func(*mcpsdk.Server)) mcpsdk.Transport {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "test"}, nil)
	register(server)

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return
		}
		<-ctx.Done()
		_ = session.Close()
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return clientTransport
}

func withTransports(t *testing.T, transports map[string]mcpsdk.Transport) {
	t.Helper()
	orig := transportBuilder
	transportBuilder = func(endpoint string) mcpsdk.Transport { return transports[endpoint] }
	t.Cleanup(func() { transportBuilder = orig })
}

func addEchoTool(server *mcpsdk.Server, name string) {
	server.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: "Echo input",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var payload map[string]string
		if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo:" + payload["text"]}},
		}, nil
	})
}

// addArgsMirror registers a tool that reflects its arguments back as text.
func addArgsMirror(server *mcpsdk.Server, name string) {
	server.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: "Mirror arguments",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(req.Params.Arguments)}},
		}, nil
	})
}

func resultText(t *testing.T, r tool.Result) string {
	t.Helper()
	contents, ok := r["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, contents)
	first, ok := contents[0].(map[string]any)
	require.True(t, ok)
	text, _ := first["text"].(string)
	return text
}

func TestBridgeRegistersAndProxiesRemoteTool(t *testing.T) {
	transport := startInMemoryServer(t, func(s *mcpsdk.Server) { addEchoTool(s, "mcp.echo") })
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	b := New(Config{Endpoints: []string{"http://mcp1"}})
	b.Connect(context.Background())
	require.Equal(t, 1, b.ServerCount())

	reg := tool.NewRegistry()
	report := b.RegisterTools(context.Background(), reg)
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Registered)
	require.True(t, reg.Has("mcp.echo"))

	res, err := reg.Invoke(context.Background(), "mcp.echo", "call-1", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "echo:hi", resultText(t, res))
}

func TestBridgeSurfacesRemoteErrorText(t *testing.T) {
	transport := startInMemoryServer(t, func(s *mcpsdk.Server) {
		s.AddTool(&mcpsdk.Tool{
			Name:        "mcp.fail",
			Description: "Always fails",
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "upstream exploded"}},
			}, nil
		})
	})
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	b := New(Config{Endpoints: []string{"http://mcp1"}})
	b.Connect(context.Background())

	reg := tool.NewRegistry()
	b.RegisterTools(context.Background(), reg)

	res, err := reg.Invoke(context.Background(), "mcp.fail", "call-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, true, res["isError"])
	assert.Equal(t, "upstream exploded", res["error"])
	assert.Equal(t, "upstream exploded", resultText(t, res))
}

func TestBridgePrefixesCollidingNames(t *testing.T) {
	transport := startInMemoryServer(t, func(s *mcpsdk.Server) { addEchoTool(s, "echo") })
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	reg := tool.NewRegistry()
	reg.Register(tool.Schema{Name: "echo", Parameters: map[string]any{"type": "object"}},
		func(ctx context.Context, callID string, args map[string]any) tool.Result {
			return tool.Success(nil)
		})

	b := New(Config{Endpoints: []string{"http://mcp1"}})
	b.Connect(context.Background())
	b.RegisterTools(context.Background(), reg)

	assert.True(t, reg.Has("mcp1.echo"))

	// A second pass keeps the exposed name stable.
	report := b.RegisterTools(context.Background(), reg)
	assert.Equal(t, 1, report.Registered)
	assert.True(t, reg.Has("mcp1.echo"))
}

func TestBridgeInFlightGate(t *testing.T) {
	transport := startInMemoryServer(t, func(s *mcpsdk.Server) { addEchoTool(s, "mcp.echo") })
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	b := New(Config{Endpoints: []string{"http://mcp1"}, MaxInFlight: 1})
	b.Connect(context.Background())

	reg := tool.NewRegistry()
	b.RegisterTools(context.Background(), reg)

	b.inflight <- struct{}{}
	res, err := reg.Invoke(context.Background(), "mcp.echo", "call-1", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "mcp: too many in-flight requests", res["error"])
	<-b.inflight
}

func TestIDEReadFileConfinesAndFallsBack(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	reg := tool.NewRegistry()
	var gotPath string
	reg.Register(tool.Schema{
		Name:       "read",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{"filePath": map[string]any{"type": "string"}}},
	}, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		gotPath, _ = args["filePath"].(string)
		return tool.Success(map[string]any{"output": "read ok"})
	})

	b := New(Config{})
	RegisterIDETools(reg, b, root)

	res, err := reg.Invoke(context.Background(), "ide.read_file", "call-1", json.RawMessage(`{"path":"../outside.txt"}`))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "path is outside workspace root", res["error"])

	res, err = reg.Invoke(context.Background(), "ide.read_file", "call-2", json.RawMessage(`{"path":"main.go"}`))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Contains(t, gotPath, "main.go")
	assert.True(t, filepath.IsAbs(gotPath))
}

func TestIDEHoverBuildsFileURI(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	transport := startInMemoryServer(t, func(s *mcpsdk.Server) { addArgsMirror(s, "lsp.hover") })
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	b := New(Config{Endpoints: []string{"http://mcp1"}})
	b.Connect(context.Background())

	reg := tool.NewRegistry()
	b.RegisterTools(context.Background(), reg)
	RegisterIDETools(reg, b, root)

	res, err := reg.Invoke(context.Background(), "ide.hover", "call-1",
		json.RawMessage(`{"uri":"main.go","line":1,"character":2}`))
	require.NoError(t, err)
	require.True(t, res.OK())

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &forwarded))
	uri, _ := forwarded["uri"].(string)
	assert.Contains(t, uri, "file://")
	assert.Contains(t, uri, "main.go")
	assert.Equal(t, float64(1), forwarded["line"])
	assert.Equal(t, float64(2), forwarded["character"])
}

func TestIDESearchDefaultsPathToRoot(t *testing.T) {
	root := t.TempDir()
	transport := startInMemoryServer(t, func(s *mcpsdk.Server) { addArgsMirror(s, "fs.search") })
	withTransports(t, map[string]mcpsdk.Transport{"http://mcp1": transport})

	b := New(Config{Endpoints: []string{"http://mcp1"}})
	b.Connect(context.Background())

	reg := tool.NewRegistry()
	b.RegisterTools(context.Background(), reg)
	RegisterIDETools(reg, b, root)

	res, err := reg.Invoke(context.Background(), "ide.search", "call-1", json.RawMessage(`{"query":"Router"}`))
	require.NoError(t, err)
	require.True(t, res.OK())

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &forwarded))
	assert.Equal(t, "Router", forwarded["query"])
	assert.Equal(t, root, forwarded["path"])
}
