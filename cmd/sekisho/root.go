package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/sekisho/internal/config"
	"github.com/harunnryd/sekisho/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sekisho",
	Short: "Sekisho LLM Gateway",
	Long:  `Sekisho is an OpenAI- and Anthropic-compatible gateway over local LLM backends with server-side tool orchestration.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)

		logger.Setup(cfg.Runtime.LogLevel, cfg.Runtime.LogFormat)
		return nil
	},
}

// applyFlagOverrides folds the short convenience flags onto the loaded
// config; env and dotted flags already landed through koanf.
func applyFlagOverrides(cmd *cobra.Command) {
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		ep := config.ParseEndpoint(v, cfg.Runtime.ListenPort)
		cfg.Runtime.ListenHost = ep.Host
		cfg.Runtime.ListenPort = ep.Port
	}
	if v, _ := cmd.Flags().GetString("provider"); v != "" {
		cfg.Runtime.Provider = v
	}
	if v, _ := cmd.Flags().GetString("workspace-root"); v != "" {
		cfg.Runtime.WorkspaceRoot = v
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("runtime.log_level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("runtime.log_format", config.DefaultLogFormat, "log format (text, json)")
	rootCmd.PersistentFlags().String("listen", "", "listen address (host:port)")
	rootCmd.PersistentFlags().String("provider", "", "default provider (llama_cpp, ollama, mnn, lmdeploy)")
	rootCmd.PersistentFlags().String("workspace-root", "", "workspace root for filesystem tools")
}
