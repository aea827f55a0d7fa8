package codex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// nopHandler is a slog.Handler that discards all output.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

// nopLogger is the shared no-op logger used when none is configured.
var nopLogger = slog.New(nopHandler{})

const (
	defaultCommand        = "codex"
	defaultRequestTimeout = 30 * time.Second
	defaultPromptTimeout  = 30 * time.Second
	defaultRefreshWait    = 15 * time.Second
)

type clientConfig struct {
	command        string
	args           []string
	workDir        string
	env            []string
	logger         *slog.Logger
	requestTimeout time.Duration
	clientName     string
	clientVersion  string
	onProcessExit  func(error)
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		command:        defaultCommand,
		args:           []string{"app-server"},
		logger:         nopLogger,
		requestTimeout: defaultRequestTimeout,
		clientName:     "agentbridge",
		clientVersion:  "dev",
	}
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithCommand sets the runtime binary and its arguments.
func WithCommand(command string, args ...string) ClientOption {
	return func(c *clientConfig) {
		c.command = command
		c.args = args
	}
}

// WithWorkDir sets the subprocess working directory.
func WithWorkDir(dir string) ClientOption {
	return func(c *clientConfig) { c.workDir = dir }
}

// WithEnv appends KEY=VALUE entries to the subprocess environment. The
// entries extend the parent environment rather than replacing it.
func WithEnv(env map[string]string) ClientOption {
	return func(c *clientConfig) {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.env = append(c.env, fmt.Sprintf("%s=%s", k, env[k]))
		}
	}
}

// WithRuntimeHome points the runtime at an isolated state directory, keeping
// its auth and history separate from any other install on the machine.
func WithRuntimeHome(dir string) ClientOption {
	return func(c *clientConfig) {
		c.env = append(c.env, "CODEX_HOME="+dir)
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout bounds how long Call waits for a response.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithClientInfo sets the name and version sent in the handshake.
func WithClientInfo(name, version string) ClientOption {
	return func(c *clientConfig) {
		c.clientName = name
		c.clientVersion = version
	}
}

// WithProcessExitHandler registers a callback for unexpected subprocess
// death. Orderly Close does not trigger it.
func WithProcessExitHandler(fn func(error)) ClientOption {
	return func(c *clientConfig) { c.onProcessExit = fn }
}

type agentConfig struct {
	clientOpts []ClientOption
	logger     *slog.Logger

	model          string
	effort         string
	cwd            string
	approvalPolicy ApprovalPolicy
	sandbox        *SandboxPolicy

	permissionMode PermissionMode
	plansDir       string
	prompter       Prompter
	promptTimeout  time.Duration
	whitelist      *sessionWhitelist
	activeSources  map[string]bool
	activator      SourceActivator
	skillNamespace string
	configNames    []string
	onPlan         func(plan string)

	store          CredentialStore
	refresher      TokenRefresher
	refreshWait    time.Duration
	onAuthRequired func()
	historyLimit   int
	resumeThreadID string
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		logger:         nopLogger,
		approvalPolicy: ApprovalOnRequest,
		permissionMode: ModeAutonomous,
		promptTimeout:  defaultPromptTimeout,
		whitelist:      newSessionWhitelist(),
		activeSources:  map[string]bool{},
		refreshWait:    defaultRefreshWait,
		historyLimit:   20,
		configNames:    []string{"agentbridge.yaml", "agentbridge.yml", "config.toml"},
	}
}

// Option configures an Agent.
type Option func(*agentConfig)

// WithClientOptions forwards options to the underlying transport client.
func WithClientOptions(opts ...ClientOption) Option {
	return func(a *agentConfig) {
		a.clientOpts = append(a.clientOpts, opts...)
	}
}

// WithModel selects the model for new threads and turns.
func WithModel(model string) Option {
	return func(a *agentConfig) { a.model = model }
}

// WithReasoningEffort sets the reasoning effort hint sent with each turn.
func WithReasoningEffort(effort string) Option {
	return func(a *agentConfig) { a.effort = effort }
}

// WithWorkingDir sets the directory commands and edits run against.
func WithWorkingDir(dir string) Option {
	return func(a *agentConfig) { a.cwd = dir }
}

// WithApprovalPolicy sets the runtime-side approval policy.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(a *agentConfig) { a.approvalPolicy = p }
}

// WithSandboxPolicy sets the sandbox envelope sent with each turn.
func WithSandboxPolicy(s *SandboxPolicy) Option {
	return func(a *agentConfig) { a.sandbox = s }
}

// WithPermissionMode sets how tool calls are screened.
func WithPermissionMode(m PermissionMode) Option {
	return func(a *agentConfig) { a.permissionMode = m }
}

// WithPlansDir designates a directory read-only mode may still write to, so
// the agent can draft plans and notes without touching anything else.
func WithPlansDir(dir string) Option {
	return func(a *agentConfig) { a.plansDir = dir }
}

// WithPrompter routes interactive permission requests to the given prompter.
func WithPrompter(p Prompter) Option {
	return func(a *agentConfig) { a.prompter = p }
}

// WithPromptTimeout bounds how long an interactive permission request waits
// before it is denied.
func WithPromptTimeout(d time.Duration) Option {
	return func(a *agentConfig) {
		if d > 0 {
			a.promptTimeout = d
		}
	}
}

// WithActiveSources marks external tool sources as already activated.
func WithActiveSources(names ...string) Option {
	return func(a *agentConfig) {
		for _, n := range names {
			a.activeSources[n] = true
		}
	}
}

// WithSourceActivator installs the callback that activates an external tool
// source on first use.
func WithSourceActivator(fn SourceActivator) Option {
	return func(a *agentConfig) { a.activator = fn }
}

// WithSkillNamespace qualifies bare skill names during input normalization.
func WithSkillNamespace(ns string) Option {
	return func(a *agentConfig) { a.skillNamespace = ns }
}

// WithConfigFileNames overrides the basenames treated as protected
// configuration files during write screening.
func WithConfigFileNames(names ...string) Option {
	return func(a *agentConfig) {
		if len(names) > 0 {
			a.configNames = names
		}
	}
}

// WithPlanHandler receives plans the agent submits for review. Plan
// submission ends the turn without executing anything.
func WithPlanHandler(fn func(plan string)) Option {
	return func(a *agentConfig) { a.onPlan = fn }
}

// WithCredentialStore sets where tokens are loaded from and saved to.
func WithCredentialStore(s CredentialStore) Option {
	return func(a *agentConfig) { a.store = s }
}

// WithTokenRefresher sets how expired credentials are renewed.
func WithTokenRefresher(r TokenRefresher) Option {
	return func(a *agentConfig) { a.refresher = r }
}

// WithRefreshWaitTimeout bounds how long a caller waits on a refresh another
// caller already started.
func WithRefreshWaitTimeout(d time.Duration) Option {
	return func(a *agentConfig) {
		if d > 0 {
			a.refreshWait = d
		}
	}
}

// WithAuthRequiredHandler registers a callback for the moment stored
// credentials become unrecoverable.
func WithAuthRequiredHandler(fn func()) Option {
	return func(a *agentConfig) { a.onAuthRequired = fn }
}

// WithAgentLogger sets the structured logger for the agent and, unless
// overridden, its transport.
func WithAgentLogger(l *slog.Logger) Option {
	return func(a *agentConfig) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithResumeThread points the agent at an existing thread to reattach on
// the first message.
func WithResumeThread(threadID string) Option {
	return func(a *agentConfig) { a.resumeThreadID = threadID }
}

// WithHistoryLimit caps how many exchanges the recovery summary keeps.
func WithHistoryLimit(n int) Option {
	return func(a *agentConfig) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}
