package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbridge/codex"
	"github.com/bazelment/agentbridge/config"
)

var (
	chatModel string
	chatMode  string
	chatCwd   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session with the agent runtime",
	Long: `Chat starts the runtime and reads messages from stdin, one turn per
line. Slash commands control the session:

  /mode <autonomous|read-only|interactive>   switch permission mode
  /clear                                     drop the thread and start fresh
  /quit                                      exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model override")
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Permission mode override")
	chatCmd.Flags().StringVar(&chatCwd, "cwd", "", "Working directory override")
}

func runChat(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyChatOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	stdin := bufio.NewReader(os.Stdin)
	agent := buildAgent(cfg, newTerminalPrompter(stdin, os.Stderr))
	defer agent.Close()

	ctx := cmd.Context()
	if err := agent.Connect(ctx); err != nil {
		return fmt.Errorf("connect runtime: %w", err)
	}

	// Reload mode and model live when the config file changes on disk.
	// Toggled integrations reconnect the runtime; a new command needs a
	// restart and is only reported.
	watcher, werr := config.Watch(path, func() {
		ncfg, lerr := config.Load(path)
		if lerr != nil {
			log.Warn("config reload failed", "err", lerr)
			return
		}
		if codex.PermissionMode(ncfg.PermissionMode) != agent.PermissionMode() {
			agent.SetPermissionMode(codex.PermissionMode(ncfg.PermissionMode))
		}
		if ncfg.Model != "" && ncfg.Model != agent.Model() {
			agent.SetModel(ncfg.Model)
		}
		if !slices.Equal(ncfg.ActiveSources, cfg.ActiveSources) {
			agent.SetActiveSources(ncfg.ActiveSources...)
			cfg.ActiveSources = ncfg.ActiveSources
			log.Info("integrations changed, reconnecting")
			if rerr := agent.Reconnect(ctx); rerr != nil {
				log.Warn("reconnect failed", "err", rerr)
			}
		}
		if ncfg.Command != cfg.Command {
			log.Info("runtime settings changed, restart to apply")
		}
	}, log)
	if werr != nil {
		log.Warn("config watching disabled", "err", werr)
	} else {
		defer watcher.Close()
	}

	fmt.Fprintf(os.Stderr, "agentbridge %s (mode: %s). /quit to exit.\n", version, cfg.PermissionMode)
	for {
		fmt.Fprint(os.Stderr, "> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleSlashCommand(ctx, agent, line); done {
				return nil
			}
			continue
		}

		turn, err := agent.Chat(ctx, line)
		if err != nil {
			if errors.Is(err, codex.ErrTurnActive) {
				fmt.Fprintln(os.Stderr, "a turn is already running")
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := drainTurn(ctx, turn, os.Stdout); err != nil {
			if errors.Is(err, context.Canceled) {
				_ = agent.Abort(context.Background())
				return nil
			}
			fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
		}
	}
}

// handleSlashCommand executes a REPL control command. Returns true when the
// session should end.
func handleSlashCommand(ctx context.Context, agent *codex.Agent, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/clear":
		if err := agent.ClearHistory(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, "history cleared")
		}
	case "/mode":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /mode <autonomous|read-only|interactive>")
			return false
		}
		switch m := codex.PermissionMode(fields[1]); m {
		case codex.ModeAutonomous, codex.ModeReadOnly, codex.ModeInteractive:
			agent.SetPermissionMode(m)
			fmt.Fprintf(os.Stderr, "mode: %s\n", m)
		default:
			fmt.Fprintf(os.Stderr, "unknown mode %q\n", fields[1])
		}
	case "/thread":
		fmt.Fprintf(os.Stderr, "thread: %s (phase %s)\n", agent.ThreadID(), agent.Phase())
	case "/usage":
		u := agent.Usage()
		fmt.Fprintf(os.Stderr, "tokens: %d total (%d in, %d cached, %d out)\n",
			u.TotalTokens, u.InputTokens, u.CachedInputTokens, u.OutputTokens)
	case "/reconnect":
		if err := agent.Reconnect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, "reconnected")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false
}

func applyChatOverrides(cfg *config.Config) {
	if chatModel != "" {
		cfg.Model = chatModel
	}
	if chatMode != "" {
		cfg.PermissionMode = chatMode
	}
	if chatCwd != "" {
		cfg.WorkDir = chatCwd
	}
}
