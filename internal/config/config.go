package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Runtime RuntimeConfig `koanf:"runtime"`
	Llama   LlamaConfig   `koanf:"llama"`
	MCP     MCPConfig     `koanf:"mcp"`

	// Prefixless backend endpoints, injected after unmarshal.
	OllamaHost   string `koanf:"-"`
	MNNHost      string `koanf:"-"`
	LMDeployHost string `koanf:"-"`
}

type RuntimeConfig struct {
	ListenHost    string `koanf:"listen_host"`
	ListenPort    int    `koanf:"listen_port"`
	Provider      string `koanf:"provider"`
	WorkspaceRoot string `koanf:"workspace_root"`
	APIPrefixMode string `koanf:"api_prefix_mode"`
	LogLevel      string `koanf:"log_level"`
	LogFormat     string `koanf:"log_format"`

	SessionStoreType        string `koanf:"session_store_type"`
	SessionStorePath        string `koanf:"session_store_path"`
	SessionStore            string `koanf:"session_store"` // legacy alias for the path
	SessionStoreEndpoint    string `koanf:"session_store_endpoint"`
	SessionStorePassword    string `koanf:"session_store_password"`
	SessionStoreDB          int    `koanf:"session_store_db"`
	SessionStoreNamespace   string `koanf:"session_store_namespace"`
	SessionStoreResetOnBoot bool   `koanf:"session_store_reset_on_boot"`

	StreamModelTimeoutS int `koanf:"stream_model_timeout_s"`
	StreamToolTimeoutS  int `koanf:"stream_tool_timeout_s"`
	StreamProgressMS    int `koanf:"stream_progress_ms"`
}

type LlamaConfig struct {
	Model         string  `koanf:"model"`
	NCtx          int     `koanf:"n_ctx"`
	NBatch        int     `koanf:"n_batch"`
	NUBatch       int     `koanf:"n_ubatch"`
	NThreads      int     `koanf:"n_threads"`
	NThreadsBatch int     `koanf:"n_threads_batch"`
	NGPULayers    int     `koanf:"n_gpu_layers"`
	GPULayers     int     `koanf:"gpu_layers"` // legacy alias for n_gpu_layers
	SplitMode     string  `koanf:"split_mode"`
	MainGPU       int     `koanf:"main_gpu"`
	OffloadKQV    bool    `koanf:"offload_kqv"`
	FlashAttn     string  `koanf:"flash_attn"`
	MaxNewTokens  int     `koanf:"max_new_tokens"`
	MaxTokens     int     `koanf:"max_tokens"` // legacy alias for max_new_tokens
	Temperature   float64 `koanf:"temperature"`
	TopP          float64 `koanf:"top_p"`
	MinP          float64 `koanf:"min_p"`
	Seed          int     `koanf:"seed"`
	PenaltyLastN  int     `koanf:"penalty_last_n"`
	RepeatPenalty float64 `koanf:"repeat_penalty"`
	UnloadAfter   bool    `koanf:"unload_after_chat"`
}

type MCPConfig struct {
	Host            string `koanf:"host"`
	Hosts           string `koanf:"hosts"` // comma separated
	ConnectTimeoutS int    `koanf:"connect_timeout_s"`
	ReadTimeoutS    int    `koanf:"read_timeout_s"`
	WriteTimeoutS   int    `koanf:"write_timeout_s"`
	MaxInFlight     int    `koanf:"max_in_flight"`
}

const (
	DefaultListenHost          = "0.0.0.0"
	DefaultListenPort          = 8080
	DefaultProvider            = "llama_cpp"
	DefaultAPIPrefixMode       = "auto"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultSessionStoreDB      = 0
	DefaultStreamModelTimeoutS = 900
	DefaultStreamToolTimeoutS  = 300
	DefaultStreamProgressMS    = 2000
	DefaultLlamaNCtx           = 4096
	DefaultLlamaMaxNewTokens   = 2048
	DefaultLlamaPenaltyLastN   = 64
	DefaultLlamaRepeatPenalty  = 1.1
	DefaultMCPConnectTimeoutS  = 5
	DefaultMCPReadTimeoutS     = 60
	DefaultMCPWriteTimeoutS    = 30
	DefaultMCPMaxInFlight      = 4
	DefaultOllamaPort          = 11434
	DefaultMNNPort             = 8000
	DefaultLMDeployPort        = 23333
	DefaultMCPPort             = 9000
	DefaultRedisPort           = 6379
	DefaultRedisEndpoint       = "http://127.0.0.1:6379"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"runtime.listen_host":            DefaultListenHost,
		"runtime.listen_port":            DefaultListenPort,
		"runtime.provider":               DefaultProvider,
		"runtime.api_prefix_mode":        DefaultAPIPrefixMode,
		"runtime.log_level":              DefaultLogLevel,
		"runtime.log_format":             DefaultLogFormat,
		"runtime.session_store_db":       DefaultSessionStoreDB,
		"runtime.stream_model_timeout_s": DefaultStreamModelTimeoutS,
		"runtime.stream_tool_timeout_s":  DefaultStreamToolTimeoutS,
		"runtime.stream_progress_ms":     DefaultStreamProgressMS,
		"mcp.connect_timeout_s":          DefaultMCPConnectTimeoutS,
		"mcp.read_timeout_s":             DefaultMCPReadTimeoutS,
		"mcp.write_timeout_s":            DefaultMCPWriteTimeoutS,
		"mcp.max_in_flight":              DefaultMCPMaxInFlight,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	// Environment variables: RUNTIME_*, LLAMA_CPP_*, MCP_* map onto the
	// matching config sections with the prefix lowered.
	k.Load(env.Provider("RUNTIME_", ".", func(s string) string {
		return "runtime." + strings.ToLower(strings.TrimPrefix(s, "RUNTIME_"))
	}), nil)
	k.Load(env.Provider("LLAMA_CPP_", ".", func(s string) string {
		return "llama." + strings.ToLower(strings.TrimPrefix(s, "LLAMA_CPP_"))
	}), nil)
	k.Load(env.Provider("MCP_", ".", func(s string) string {
		return "mcp." + strings.ToLower(strings.TrimPrefix(s, "MCP_"))
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.OllamaHost = os.Getenv("OLLAMA_HOST")
	cfg.MNNHost = os.Getenv("MNN_HOST")
	cfg.LMDeployHost = os.Getenv("LMDEPLOY_HOST")

	normalize(&cfg)
	return &cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Runtime.SessionStorePath == "" {
		cfg.Runtime.SessionStorePath = cfg.Runtime.SessionStore
	}
	cfg.Runtime.SessionStoreType = strings.ToLower(cfg.Runtime.SessionStoreType)
	if cfg.Runtime.SessionStoreType == "" && cfg.Runtime.SessionStorePath != "" {
		cfg.Runtime.SessionStoreType = "file"
	}
	if cfg.Runtime.SessionStoreEndpoint == "" {
		switch cfg.Runtime.SessionStoreType {
		case "minimemory", "redis":
			cfg.Runtime.SessionStoreEndpoint = DefaultRedisEndpoint
		}
	}
	if cfg.Llama.NGPULayers == 0 && cfg.Llama.GPULayers != 0 {
		cfg.Llama.NGPULayers = cfg.Llama.GPULayers
	}
	if cfg.Llama.MaxNewTokens == 0 && cfg.Llama.MaxTokens != 0 {
		cfg.Llama.MaxNewTokens = cfg.Llama.MaxTokens
	}
}

// MCPEndpoints returns all configured MCP endpoints: MCP_HOSTS wins over
// MCP_HOST when both are set.
func (c *Config) MCPEndpoints() []Endpoint {
	if hosts := strings.TrimSpace(c.MCP.Hosts); hosts != "" {
		var out []Endpoint
		for _, h := range strings.Split(hosts, ",") {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			out = append(out, ParseEndpoint(h, DefaultMCPPort))
		}
		return out
	}
	if h := strings.TrimSpace(c.MCP.Host); h != "" {
		return []Endpoint{ParseEndpoint(h, DefaultMCPPort)}
	}
	return nil
}
