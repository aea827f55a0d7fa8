package codex

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PermissionMode controls how tool calls are screened before execution.
type PermissionMode string

const (
	// ModeAutonomous allows everything without prompting.
	ModeAutonomous PermissionMode = "autonomous"

	// ModeReadOnly blocks anything that could mutate state.
	ModeReadOnly PermissionMode = "read-only"

	// ModeInteractive prompts for anything not already whitelisted.
	ModeInteractive PermissionMode = "interactive"
)

// ToolPresentPlan is the tool the model calls to submit a plan for review
// instead of acting.
const ToolPresentPlan = "PresentPlan"

// ErrSourceNotConfigured is returned by a SourceActivator when the requested
// source has no configuration to activate from.
var ErrSourceNotConfigured = errors.New("source not configured")

// SourceActivator switches an external tool source on for the session. It is
// called the first time a tool from an inactive source is requested.
type SourceActivator func(ctx context.Context, source string) error

// PermissionRequest is what a Prompter shows the user.
type PermissionRequest struct {
	ID       string
	ThreadID string
	TurnID   string
	ItemID   string
	Tool     string
	Input    json.RawMessage
	Command  []string
	CWD      string
	Reason   string
}

// PermissionResponse is the user's answer. ForSession additionally
// whitelists the command or tool for the rest of the session.
type PermissionResponse struct {
	Approved   bool
	ForSession bool
}

// Prompter asks the user to approve or deny a tool call.
type Prompter interface {
	Prompt(ctx context.Context, req PermissionRequest) (PermissionResponse, error)
}

// PrompterFunc adapts a function to a Prompter.
type PrompterFunc func(ctx context.Context, req PermissionRequest) (PermissionResponse, error)

func (f PrompterFunc) Prompt(ctx context.Context, req PermissionRequest) (PermissionResponse, error) {
	return f(ctx, req)
}

var envAssign = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// baseCommand extracts the bare program name from a shell command line,
// skipping leading KEY=VALUE environment assignments.
func baseCommand(cmd string) string {
	for _, f := range strings.Fields(cmd) {
		if envAssign.MatchString(f) {
			continue
		}
		return filepath.Base(f)
	}
	return ""
}

func baseCommandArgv(argv []string) string {
	for _, a := range argv {
		if envAssign.MatchString(a) {
			continue
		}
		return filepath.Base(a)
	}
	return ""
}

// sessionWhitelist remembers what the user approved for the session so the
// same thing is not prompted twice.
type sessionWhitelist struct {
	mu       sync.Mutex
	commands map[string]bool
	domains  map[string]bool
	edits    bool
}

func newSessionWhitelist() *sessionWhitelist {
	return &sessionWhitelist{
		commands: make(map[string]bool),
		domains:  make(map[string]bool),
	}
}

func (w *sessionWhitelist) allowCommand(base string) {
	if base == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commands[base] = true
}

func (w *sessionWhitelist) commandAllowed(base string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commands[base]
}

func (w *sessionWhitelist) allowDomain(domain string) {
	if domain == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.domains[strings.ToLower(domain)] = true
}

func (w *sessionWhitelist) domainAllowed(domain string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.domains[strings.ToLower(domain)]
}

func (w *sessionWhitelist) allowEdits() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edits = true
}

func (w *sessionWhitelist) editsAllowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edits
}

type pendingPermission struct {
	req        PermissionRequest
	decisionCh chan PermissionResponse
}

// permissionGate screens tool calls before the runtime executes them. Every
// decision resolves to exactly one of allow, block, or modify.
type permissionGate struct {
	logger        *slog.Logger
	prompter      Prompter
	promptTimeout time.Duration
	whitelist     *sessionWhitelist
	normalizer    *normalizer
	activator     SourceActivator
	plansDir      string

	onBlock           func(itemID, reason string)
	onSourceActivated func(source string)
	onPlan            func(plan string)

	modeMu sync.Mutex
	mode   PermissionMode

	srcMu   sync.Mutex
	sources map[string]bool

	pendMu  sync.Mutex
	pending map[string]*pendingPermission
}

func newPermissionGate(cfg *agentConfig, norm *normalizer) *permissionGate {
	return &permissionGate{
		logger:        cfg.logger,
		prompter:      cfg.prompter,
		promptTimeout: cfg.promptTimeout,
		whitelist:     cfg.whitelist,
		normalizer:    norm,
		activator:     cfg.activator,
		plansDir:      cfg.plansDir,
		mode:          cfg.permissionMode,
		sources:       cfg.activeSources,
		pending:       make(map[string]*pendingPermission),
	}
}

// Mode reports the active permission mode.
func (g *permissionGate) Mode() PermissionMode {
	g.modeMu.Lock()
	defer g.modeMu.Unlock()
	return g.mode
}

// SetMode changes the permission mode for subsequent decisions.
func (g *permissionGate) SetMode(m PermissionMode) {
	g.modeMu.Lock()
	defer g.modeMu.Unlock()
	g.mode = m
}

// DecideTool runs the pre-execution pipeline for one tool call: plan
// capture, mode policy, session whitelist, source activation, interactive
// prompt, then input normalization.
func (g *permissionGate) DecideTool(ctx context.Context, p PreExecuteParams) ToolDecision {
	if p.Tool == ToolPresentPlan {
		g.capturePlan(p.Input)
		return AllowTool()
	}

	if g.Mode() == ModeReadOnly && !readOnlyTool(p.Tool) && !g.plansDirWrite(p) {
		return g.block(p.ItemID, "blocked by read-only mode")
	}
	needPrompt := g.Mode() == ModeInteractive && !g.preApproved(p)

	// Blocked calls must leave inactive sources untouched.
	if server, ok := mcpServerOf(p.Tool); ok {
		if blocked, reason := g.ensureSourceActive(ctx, server); blocked {
			return g.block(p.ItemID, reason)
		}
	}

	if needPrompt {
		req := PermissionRequest{
			ThreadID: p.ThreadID,
			TurnID:   p.TurnID,
			ItemID:   p.ItemID,
			Tool:     p.Tool,
			Input:    p.Input,
		}
		resp, denyReason := g.prompt(ctx, req)
		if !resp.Approved {
			return g.block(p.ItemID, denyReason)
		}
		if resp.ForSession {
			g.rememberApproval(p)
		}
	}

	return g.normalize(p)
}

// normalize applies input rewriting after the policy allowed the call. A
// rewrite can still block: protected config writes that fail validation are
// refused regardless of mode.
func (g *permissionGate) normalize(p PreExecuteParams) ToolDecision {
	out, blockReason := g.normalizer.normalizeInput(p.Tool, p.Input)
	if blockReason != "" {
		return g.block(p.ItemID, blockReason)
	}
	if out != nil {
		return ModifyTool(out)
	}
	return AllowTool()
}

func (g *permissionGate) block(itemID, reason string) ToolDecision {
	g.logger.Debug("blocking tool call", "itemId", itemID, "reason", reason)
	if g.onBlock != nil {
		g.onBlock(itemID, reason)
	}
	return BlockTool(reason)
}

func (g *permissionGate) capturePlan(input json.RawMessage) {
	var p struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		g.logger.Warn("plan submission with unreadable input", "err", err)
		return
	}
	if g.onPlan != nil {
		g.onPlan(p.Plan)
	}
}

// setSources replaces the set of sources considered active.
func (g *permissionGate) setSources(names []string) {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	g.srcMu.Lock()
	g.sources = m
	g.srcMu.Unlock()
}

// ensureSourceActive activates an external tool source on first use.
func (g *permissionGate) ensureSourceActive(ctx context.Context, server string) (blocked bool, reason string) {
	g.srcMu.Lock()
	active := g.sources[server]
	g.srcMu.Unlock()
	if active {
		return false, ""
	}

	if g.activator == nil {
		return true, "source not configured: " + server
	}
	if err := g.activator(ctx, server); err != nil {
		if errors.Is(err, ErrSourceNotConfigured) {
			return true, "source not configured: " + server
		}
		return true, "source activation failed: " + err.Error()
	}

	g.srcMu.Lock()
	g.sources[server] = true
	g.srcMu.Unlock()
	g.logger.Info("activated tool source", "source", server)
	if g.onSourceActivated != nil {
		g.onSourceActivated(server)
	}
	return false, ""
}

func (g *permissionGate) preApproved(p PreExecuteParams) bool {
	switch p.Tool {
	case ToolRead, ToolWebSearch, ToolViewImage:
		return true
	case ToolBash:
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(p.Input, &in); err != nil {
			return false
		}
		return g.whitelist.commandAllowed(baseCommand(in.Command))
	case ToolEdit:
		return g.whitelist.editsAllowed()
	}
	if host := urlHost(p.Input); host != "" {
		return g.whitelist.domainAllowed(host)
	}
	return false
}

func (g *permissionGate) rememberApproval(p PreExecuteParams) {
	switch p.Tool {
	case ToolBash:
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(p.Input, &in); err == nil {
			g.whitelist.allowCommand(baseCommand(in.Command))
		}
	case ToolEdit:
		g.whitelist.allowEdits()
	default:
		if host := urlHost(p.Input); host != "" {
			g.whitelist.allowDomain(host)
		}
	}
}

// DecideCommandApproval answers a runtime-side command approval request.
func (g *permissionGate) DecideCommandApproval(ctx context.Context, p CommandApprovalParams) string {
	switch g.Mode() {
	case ModeAutonomous:
		return DecisionAccept
	case ModeReadOnly:
		g.recordDecline(p.ItemID, "blocked by read-only mode")
		return DecisionDecline
	}

	base := baseCommandArgv(p.Command)
	if g.whitelist.commandAllowed(base) {
		return DecisionAccept
	}

	resp, denyReason := g.prompt(ctx, PermissionRequest{
		ThreadID: p.ThreadID,
		TurnID:   p.TurnID,
		ItemID:   p.ItemID,
		Tool:     ToolBash,
		Command:  p.Command,
		CWD:      p.CWD,
		Reason:   p.Reason,
	})
	if !resp.Approved {
		g.recordDecline(p.ItemID, denyReason)
		return DecisionDecline
	}
	if resp.ForSession {
		g.whitelist.allowCommand(base)
	}
	return DecisionAccept
}

// DecideFileChangeApproval answers a runtime-side file change approval
// request.
func (g *permissionGate) DecideFileChangeApproval(ctx context.Context, p FileChangeApprovalParams) string {
	switch g.Mode() {
	case ModeAutonomous:
		return DecisionAccept
	case ModeReadOnly:
		if g.plansDir != "" && p.GrantRoot != "" && pathWithin(g.plansDir, p.GrantRoot) {
			return DecisionAccept
		}
		g.recordDecline(p.ItemID, "blocked by read-only mode")
		return DecisionDecline
	}

	if g.whitelist.editsAllowed() {
		return DecisionAccept
	}

	resp, denyReason := g.prompt(ctx, PermissionRequest{
		ThreadID: p.ThreadID,
		TurnID:   p.TurnID,
		ItemID:   p.ItemID,
		Tool:     ToolEdit,
		Reason:   p.Reason,
	})
	if !resp.Approved {
		g.recordDecline(p.ItemID, denyReason)
		return DecisionDecline
	}
	if resp.ForSession {
		g.whitelist.allowEdits()
	}
	return DecisionAccept
}

func (g *permissionGate) recordDecline(itemID, reason string) {
	if g.onBlock != nil {
		g.onBlock(itemID, reason)
	}
}

// Deny reasons surfaced to the agent. A timeout and an explicit decline
// read differently so the model (and the user watching the stream) can tell
// an unattended session apart from a refusal.
const (
	reasonDenied   = "denied by user"
	reasonTimedOut = "permission request timed out"
	reasonCanceled = "permission request canceled"
)

// prompt asks the configured prompter and waits for an answer, the timeout,
// or a force-resolution. No prompter means deny. The second return is the
// reason to report when the answer is a denial.
func (g *permissionGate) prompt(ctx context.Context, req PermissionRequest) (PermissionResponse, string) {
	if g.prompter == nil {
		g.logger.Warn("interactive mode without a prompter, denying", "tool", req.Tool)
		return PermissionResponse{}, reasonDenied
	}

	req.ID = uuid.NewString()
	pend := &pendingPermission{
		req:        req,
		decisionCh: make(chan PermissionResponse, 1),
	}
	g.pendMu.Lock()
	g.pending[req.ID] = pend
	g.pendMu.Unlock()
	defer func() {
		g.pendMu.Lock()
		delete(g.pending, req.ID)
		g.pendMu.Unlock()
	}()

	promptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		resp, err := g.prompter.Prompt(promptCtx, req)
		if err != nil {
			if promptCtx.Err() == nil {
				g.logger.Warn("prompter failed", "tool", req.Tool, "err", err)
			}
			resp = PermissionResponse{}
		}
		select {
		case pend.decisionCh <- resp:
		default:
		}
	}()

	timer := time.NewTimer(g.promptTimeout)
	defer timer.Stop()
	select {
	case resp := <-pend.decisionCh:
		return resp, reasonDenied
	case <-timer.C:
		g.logger.Warn("permission request timed out", "tool", req.Tool, "id", req.ID)
		return PermissionResponse{}, reasonTimedOut
	case <-ctx.Done():
		return PermissionResponse{}, reasonCanceled
	}
}

// resolveAllDenied force-resolves every outstanding permission request as
// denied. Used when the turn is torn down while prompts are pending.
func (g *permissionGate) resolveAllDenied(reason string) {
	g.pendMu.Lock()
	pend := make([]*pendingPermission, 0, len(g.pending))
	for _, p := range g.pending {
		pend = append(pend, p)
	}
	g.pending = make(map[string]*pendingPermission)
	g.pendMu.Unlock()

	for _, p := range pend {
		g.logger.Debug("force-denying pending permission", "id", p.req.ID, "reason", reason)
		select {
		case p.decisionCh <- PermissionResponse{}:
		default:
		}
	}
}

// pendingCount reports outstanding interactive requests.
func (g *permissionGate) pendingCount() int {
	g.pendMu.Lock()
	defer g.pendMu.Unlock()
	return len(g.pending)
}

func readOnlyTool(tool string) bool {
	switch tool {
	case ToolRead, ToolWebSearch, ToolViewImage:
		return true
	}
	return false
}

// plansDirWrite reports whether the call is an edit landing inside the
// designated plans directory, the one place read-only mode may write.
func (g *permissionGate) plansDirWrite(p PreExecuteParams) bool {
	if g.plansDir == "" || p.Tool != ToolEdit {
		return false
	}
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(p.Input, &in); err != nil || in.Path == "" {
		return false
	}
	return pathWithin(g.plansDir, g.normalizer.expandTilde(in.Path))
}

// pathWithin reports whether p is dir or lies underneath it.
func pathWithin(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func mcpServerOf(tool string) (string, bool) {
	if !strings.HasPrefix(tool, "mcp__") {
		return "", false
	}
	rest := strings.TrimPrefix(tool, "mcp__")
	server, _, ok := strings.Cut(rest, "__")
	if !ok || server == "" {
		return "", false
	}
	return server, true
}

func urlHost(input json.RawMessage) string {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &in); err != nil || in.URL == "" {
		return ""
	}
	u, err := url.Parse(in.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
