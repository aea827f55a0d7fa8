// Command agentbridge drives a codex app-server runtime from the terminal.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/config"
)

const version = "0.1.0"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "Bridge to a codex app-server runtime",
	Long: `Agentbridge runs a codex app-server as a subprocess, screens its tool
calls through a permission pipeline, and exposes each turn as a stream of
uniform events. Threads survive restarts: the bridge resumes the previous
conversation or reconstructs its context when the runtime has forgotten it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./agentbridge.yaml, then user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag or the conventional location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// newLogger creates a structured logger honoring --verbose over the
// configured level.
func newLogger(cfgLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch cfgLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
