package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/codex"
	"github.com/bazelment/agentbridge/config"
)

// buildAgent maps the file config onto agent options.
func buildAgent(cfg *config.Config, prompter codex.Prompter) *codex.Agent {
	log := newLogger(cfg.LogLevel)

	clientOpts := []codex.ClientOption{
		codex.WithCommand(cfg.Command, cfg.Args...),
		codex.WithClientInfo("agentbridge", version),
	}
	if cfg.RuntimeHome != "" {
		clientOpts = append(clientOpts, codex.WithRuntimeHome(expandPath(cfg.RuntimeHome)))
	}
	if cfg.WorkDir != "" {
		clientOpts = append(clientOpts, codex.WithWorkDir(cfg.WorkDir))
	}
	if len(cfg.Env) > 0 {
		clientOpts = append(clientOpts, codex.WithEnv(cfg.Env))
	}
	if d := cfg.RequestTimeout(); d > 0 {
		clientOpts = append(clientOpts, codex.WithRequestTimeout(d))
	}

	opts := []codex.Option{
		codex.WithClientOptions(clientOpts...),
		codex.WithAgentLogger(log),
		codex.WithPermissionMode(codex.PermissionMode(cfg.PermissionMode)),
		codex.WithApprovalPolicy(codex.ApprovalPolicy(cfg.ApprovalPolicy)),
	}
	if len(cfg.ActiveSources) > 0 {
		opts = append(opts, codex.WithActiveSources(cfg.ActiveSources...))
	}
	if cfg.Model != "" {
		opts = append(opts, codex.WithModel(cfg.Model))
	}
	if cfg.ReasoningEffort != "" {
		opts = append(opts, codex.WithReasoningEffort(cfg.ReasoningEffort))
	}
	if cfg.WorkDir != "" {
		opts = append(opts, codex.WithWorkingDir(cfg.WorkDir))
	}
	if cfg.PlansDir != "" {
		opts = append(opts, codex.WithPlansDir(expandPath(cfg.PlansDir)))
	}
	if cfg.SkillNamespace != "" {
		opts = append(opts, codex.WithSkillNamespace(cfg.SkillNamespace))
	}
	if len(cfg.WritableRoots) > 0 || cfg.NetworkAccess {
		opts = append(opts, codex.WithSandboxPolicy(
			codex.WorkspaceWriteSandbox(cfg.WritableRoots, cfg.NetworkAccess)))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, codex.WithCredentialStore(
			&codex.FileCredentialStore{Path: expandPath(cfg.CredentialsFile)}))
	}
	if d := cfg.PromptTimeout(); d > 0 {
		opts = append(opts, codex.WithPromptTimeout(d))
	}
	if prompter != nil {
		opts = append(opts, codex.WithPrompter(prompter))
	}
	return codex.NewAgent(opts...)
}

// drainTurn prints a turn's events until it completes.
func drainTurn(ctx context.Context, turn *codex.Turn, out io.Writer) error {
	for {
		ev, err := turn.Next(ctx)
		if errors.Is(err, codex.ErrTurnComplete) {
			return nil
		}
		if err != nil {
			return err
		}

		switch e := ev.(type) {
		case agentstream.TextDeltaEvent:
			if !e.Thinking {
				fmt.Fprint(out, e.Delta)
			}
		case agentstream.TextCompleteEvent:
			if !e.Thinking {
				fmt.Fprintln(out)
			}
		case agentstream.ToolStartEvent:
			fmt.Fprintf(out, "\n[%s] %s\n", e.Tool, toolInputSummary(e.Input))
		case agentstream.ToolResultEvent:
			if e.BlockReason != "" {
				fmt.Fprintf(out, "[%s blocked: %s]\n", e.Tool, e.BlockReason)
			} else if e.IsError {
				fmt.Fprintf(out, "[%s failed]\n", e.Tool)
			}
		case agentstream.TodosUpdatedEvent:
			for _, td := range e.Todos {
				mark := " "
				if td.Completed {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %s\n", mark, td.Text)
			}
		case agentstream.StatusEvent:
			fmt.Fprintf(out, "(%s)\n", e.Status)
		case agentstream.InfoEvent:
			fmt.Fprintf(out, "(%s)\n", e.Message)
		case agentstream.SourceActivatedEvent:
			fmt.Fprintf(out, "(activated source %s)\n", e.Source)
		case agentstream.TypedErrorEvent:
			fmt.Fprintf(out, "error (%s): %s\n", e.Kind, e.Message)
		case agentstream.ErrorEvent:
			fmt.Fprintf(out, "error: %v\n", e.Err)
		case agentstream.CompleteEvent:
			if !e.Usage.IsZero() {
				fmt.Fprintf(out, "(%d tokens)\n", e.Usage.TotalTokens)
			}
			return nil
		}
	}
}

func toolInputSummary(input map[string]interface{}) string {
	if cmd, ok := input["command"].(string); ok {
		return cmd
	}
	if path, ok := input["path"].(string); ok {
		return path
	}
	if paths, ok := input["paths"].([]string); ok {
		return strings.Join(paths, ", ")
	}
	if q, ok := input["query"].(string); ok {
		return q
	}
	return ""
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
