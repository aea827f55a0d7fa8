package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bazelment/agentbridge/agentstream"
)

// Abort reasons that keep the transport alive: the conversation is expected
// to continue after the host reacts.
const (
	AbortReasonPlanSubmitted = "plan submitted"
	AbortReasonAuthRequired  = "auth required"
)

// recoveryTextLimit caps each remembered exchange so the recovery summary
// stays a preamble, not a transcript.
const recoveryTextLimit = 500

type exchange struct {
	role string
	text string
}

// Agent drives a runtime subprocess through threads and turns, screens its
// tool calls, and exposes each turn as a pull-based event stream. One turn
// runs at a time.
type Agent struct {
	cfg        agentConfig
	logger     *slog.Logger
	client     *Client
	translator *translator
	gate       *permissionGate
	refresh    *refreshGate
	phase      *phaseManager

	mu              sync.Mutex
	threadID        string
	currentTurn     *Turn
	currentBridge   *eventBridge
	history         []exchange
	pendingRecovery string
	usage           agentstream.Usage
}

// NewAgent builds an agent. Connect (or the first Chat) spawns the runtime.
func NewAgent(opts ...Option) *Agent {
	cfg := defaultAgentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	// Instance id distinguishes concurrent agents in shared logs.
	cfg.logger = cfg.logger.With("agent", uuid.NewString()[:8])

	a := &Agent{
		cfg:    cfg,
		logger: cfg.logger,
		phase:  newPhaseManager(),
	}

	userAuthCb := cfg.onAuthRequired
	a.cfg.onAuthRequired = func() { a.handleAuthRequired(userAuthCb) }

	clientOpts := append([]ClientOption{WithLogger(cfg.logger)}, cfg.clientOpts...)
	clientOpts = append(clientOpts, WithProcessExitHandler(a.handleProcessExit))
	a.client = NewClient(clientOpts...)

	a.translator = newTranslator(cfg.logger)
	norm := newNormalizer(&a.cfg)
	a.gate = newPermissionGate(&a.cfg, norm)
	a.gate.onBlock = a.translator.recordBlock
	a.gate.onSourceActivated = a.handleSourceActivated
	a.gate.onPlan = a.handlePlan
	a.refresh = newRefreshGate(&a.cfg)

	a.threadID = cfg.resumeThreadID
	a.registerHandlers()
	a.client.SetNotificationSink(NotificationSinkFunc(a.handleNotification))
	return a
}

func (a *Agent) registerHandlers() {
	a.client.HandleRequest(MethodToolPreExecute, a.handlePreExecute)
	a.client.HandleRequest(MethodCommandApproval, a.handleCommandApproval)
	a.client.HandleRequest(MethodFileChangeApproval, a.handleFileChangeApproval)
}

// Connect spawns the runtime and injects stored credentials. Chat calls it
// implicitly when needed.
func (a *Agent) Connect(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return err
	}
	a.maybeInjectCredentials(ctx)
	a.logAccount(ctx)
	return nil
}

// logAccount records who the runtime is signed in as. Best-effort.
func (a *Agent) logAccount(ctx context.Context) {
	var res AccountReadResult
	if err := a.client.Call(ctx, MethodAccountRead, AccountReadParams{}, &res); err != nil {
		a.logger.Debug("account read failed", "err", err)
		return
	}
	if res.Account != nil {
		a.logger.Info("runtime signed in", "email", res.Account.Email, "plan", res.Account.PlanType)
	}
}

// Close shuts everything down: pending permissions resolve as denied, an
// active turn completes locally, the subprocess stops.
func (a *Agent) Close() error {
	a.gate.resolveAllDenied("shutting down")
	a.finishTurn()
	err := a.client.Close()
	a.phase.set(PhaseNoThread)
	return err
}

// ThreadID is the active thread, empty before the first exchange.
func (a *Agent) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

// Phase reports where the agent is in the conversation lifecycle.
func (a *Agent) Phase() ThreadPhase {
	return a.phase.current()
}

// PermissionMode reports the active screening mode.
func (a *Agent) PermissionMode() PermissionMode {
	return a.gate.Mode()
}

// SetPermissionMode switches screening for subsequent tool calls.
func (a *Agent) SetPermissionMode(m PermissionMode) {
	a.gate.SetMode(m)
	a.logger.Info("permission mode changed", "mode", string(m))
}

// Model reports the model used for new turns.
func (a *Agent) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.model
}

// SetModel changes the model for subsequent turns. The active turn is not
// affected.
func (a *Agent) SetModel(model string) {
	a.mu.Lock()
	a.cfg.model = model
	a.mu.Unlock()
	a.logger.Info("model changed", "model", model)
}

// ReasoningEffort reports the effort hint sent with each turn.
func (a *Agent) ReasoningEffort() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.effort
}

// SetReasoningEffort changes the effort hint for subsequent turns.
func (a *Agent) SetReasoningEffort(effort string) {
	a.mu.Lock()
	a.cfg.effort = effort
	a.mu.Unlock()
	a.logger.Info("reasoning effort changed", "effort", effort)
}

// SetActiveSources replaces the set of external tool sources considered
// active. Pair with Reconnect so the runtime picks up the same change.
func (a *Agent) SetActiveSources(names ...string) {
	a.gate.setSources(names)
	a.logger.Info("active sources changed", "sources", names)
}

// Usage is the cumulative token accounting reported by the runtime.
func (a *Agent) Usage() agentstream.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Chat starts a turn with the given message and returns its event stream.
// The first call creates a thread; after a restart it resumes the previous
// one, falling back to a fresh thread seeded with a recovery summary.
func (a *Agent) Chat(ctx context.Context, text string) (*Turn, error) {
	if a.phase.current() == PhaseTurnActive {
		return nil, ErrTurnActive
	}
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	threadID, err := a.ensureThread(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	recovery := a.pendingRecovery
	a.pendingRecovery = ""
	model := a.cfg.model
	effort := a.cfg.effort
	a.mu.Unlock()
	input := text
	if recovery != "" {
		input = recovery + "\n\n" + text
	}

	bridge := newEventBridge(a.logger)
	turn := newTurn(threadID, bridge)
	a.translator.beginTurn(threadID, "")
	a.mu.Lock()
	a.currentTurn = turn
	a.currentBridge = bridge
	a.mu.Unlock()

	if err := a.phase.transition(PhaseThreadActive, PhaseTurnActive); err != nil {
		a.clearTurn()
		return nil, err
	}

	params := TurnStartParams{
		ThreadID:       threadID,
		Input:          []InputItem{TextInput(input)},
		CWD:            a.cfg.cwd,
		Model:          model,
		Effort:         effort,
		ApprovalPolicy: a.cfg.approvalPolicy,
		SandboxPolicy:  a.cfg.sandbox,
	}
	var res TurnStartResult
	if err := a.callWithAuthRetry(ctx, MethodTurnStart, params, &res); err != nil {
		a.clearTurn()
		a.phase.set(PhaseThreadActive)
		return nil, fmt.Errorf("start turn: %w", err)
	}
	turn.setID(res.Turn.ID)
	a.recordExchange("user", text)
	a.logger.Debug("turn started", "threadId", threadID, "turnId", res.Turn.ID)
	return turn, nil
}

// Abort asks the runtime to stop the active turn. The request is best
// effort; the turn completes locally regardless of the wire outcome.
func (a *Agent) Abort(ctx context.Context) error {
	if a.phase.current() != PhaseTurnActive {
		return nil
	}
	a.mu.Lock()
	threadID := a.threadID
	a.mu.Unlock()

	if err := a.client.Call(ctx, MethodTurnInterrupt, TurnInterruptParams{ThreadID: threadID}, nil); err != nil {
		a.logger.Warn("turn interrupt failed", "err", err)
	}
	a.gate.resolveAllDenied("turn aborted")
	a.finishTurn()
	return nil
}

// ForceAbort ends the active turn immediately: pending permissions resolve
// as denied and the event stream completes. Unless the reason is one that
// expects the conversation to continue, the transport is torn down too.
func (a *Agent) ForceAbort(reason string) {
	a.logger.Info("force abort", "reason", reason)
	a.gate.resolveAllDenied(reason)
	a.finishTurn()
	if reason == AbortReasonPlanSubmitted || reason == AbortReasonAuthRequired {
		return
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close transport failed", "err", err)
	}
	a.phase.set(PhaseNoThread)
}

// Reconnect tears down the transport and brings it back up against the same
// thread. Rejected while a turn is active.
func (a *Agent) Reconnect(ctx context.Context) error {
	if a.phase.current() == PhaseTurnActive {
		return ErrTurnActive
	}
	a.logger.Info("reconnecting", "threadId", a.ThreadID())
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close transport failed", "err", err)
	}
	a.phase.set(PhaseNoThread)
	if err := a.Connect(ctx); err != nil {
		return err
	}
	if _, err := a.ensureThread(ctx); err != nil {
		return err
	}
	return nil
}

// ClearHistory drops the thread and the recovery context. The next Chat
// starts from nothing.
func (a *Agent) ClearHistory() error {
	if a.phase.current() == PhaseTurnActive {
		return ErrTurnActive
	}
	a.mu.Lock()
	a.threadID = ""
	a.history = nil
	a.pendingRecovery = ""
	a.mu.Unlock()
	a.phase.set(PhaseNoThread)
	a.logger.Info("history cleared")
	return nil
}

// Account reads the signed-in account, optionally forcing the runtime to
// refresh its tokens first.
func (a *Agent) Account(ctx context.Context, refreshTokens bool) (*AccountInfo, error) {
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	var res AccountReadResult
	if err := a.callWithAuthRetry(ctx, MethodAccountRead, AccountReadParams{RefreshToken: refreshTokens}, &res); err != nil {
		return nil, err
	}
	return res.Account, nil
}

// Logout signs the runtime out and clears stored credentials.
func (a *Agent) Logout(ctx context.Context) error {
	if err := a.ensureConnected(ctx); err != nil {
		return err
	}
	if err := a.client.Call(ctx, MethodAccountLogout, nil, nil); err != nil {
		return err
	}
	if a.cfg.store != nil {
		if err := a.cfg.store.Clear(ctx); err != nil {
			a.logger.Warn("clear stored credentials failed", "err", err)
		}
	}
	return nil
}

func (a *Agent) ensureConnected(ctx context.Context) error {
	if a.client.State() == StateConnected {
		return nil
	}
	return a.Connect(ctx)
}

// ensureThread returns a live thread id, resuming the previous thread when
// one is known. A failed resume never surfaces to the caller: the agent
// starts fresh and splices a recovery summary into the next message.
func (a *Agent) ensureThread(ctx context.Context) (string, error) {
	a.mu.Lock()
	threadID := a.threadID
	model := a.cfg.model
	a.mu.Unlock()

	if a.phase.current() == PhaseThreadActive && threadID != "" {
		return threadID, nil
	}
	if err := a.phase.transition(PhaseNoThread, PhaseThreadStarting); err != nil {
		return "", err
	}

	if threadID != "" {
		var res ThreadResumeResult
		err := a.callWithAuthRetry(ctx, MethodThreadResume, ThreadResumeParams{ThreadID: threadID}, &res)
		if err == nil {
			a.phase.set(PhaseThreadActive)
			a.logger.Info("thread resumed", "threadId", threadID)
			return threadID, nil
		}
		a.logger.Warn("thread resume failed, starting fresh", "threadId", threadID, "err", err)
		a.mu.Lock()
		a.threadID = ""
		a.pendingRecovery = a.recoverySummaryLocked()
		a.mu.Unlock()
	}

	var res ThreadStartResult
	params := ThreadStartParams{
		Model:          model,
		CWD:            a.cfg.cwd,
		ApprovalPolicy: a.cfg.approvalPolicy,
		Sandbox:        sandboxModeString(a.cfg.sandbox),
	}
	if err := a.callWithAuthRetry(ctx, MethodThreadStart, params, &res); err != nil {
		a.phase.set(PhaseNoThread)
		return "", fmt.Errorf("start thread: %w", err)
	}

	a.mu.Lock()
	a.threadID = res.Thread.ID
	a.mu.Unlock()
	a.phase.set(PhaseThreadActive)
	a.logger.Info("thread started", "threadId", res.Thread.ID)
	return res.Thread.ID, nil
}

// handleNotification is the transport sink: lifecycle bookkeeping, then
// translation, then delivery into the active turn's bridge.
func (a *Agent) handleNotification(n Notification) {
	switch n := n.(type) {
	case ThreadStartedNotification:
		a.mu.Lock()
		if a.threadID == "" {
			a.threadID = n.ThreadID
		}
		a.mu.Unlock()

	case TurnStartedNotification:
		a.mu.Lock()
		turn := a.currentTurn
		a.mu.Unlock()
		if turn != nil && turn.ID() == "" {
			turn.setID(n.Turn.ID)
		}

	case TokenUsageNotification:
		a.mu.Lock()
		a.usage = streamUsage(n.Usage.Total)
		a.mu.Unlock()
	}

	events := a.translator.translate(n)
	for _, ev := range events {
		if tc, ok := ev.(agentstream.TextCompleteEvent); ok && !tc.Thinking {
			a.recordExchange("assistant", tc.Text)
		}
	}

	a.mu.Lock()
	bridge := a.currentBridge
	a.mu.Unlock()
	if bridge != nil && len(events) > 0 {
		bridge.push(events...)
	}

	switch n.(type) {
	case TurnCompletedNotification, TurnFailedNotification:
		a.finishTurn()
	}
}

// finishTurn is the single authority for ending a turn locally: it
// guarantees the bridge completes, the phase returns to thread-active, and
// no prompt outlives the turn.
func (a *Agent) finishTurn() {
	a.mu.Lock()
	bridge := a.currentBridge
	turn := a.currentTurn
	threadID := a.threadID
	a.currentBridge = nil
	a.currentTurn = nil
	a.mu.Unlock()

	if bridge != nil && !bridge.isCompleted() {
		turnID := ""
		if turn != nil {
			turnID = turn.ID()
		}
		bridge.push(agentstream.CompleteEvent{ThreadID: threadID, TurnID: turnID})
	}
	if a.phase.current() == PhaseTurnActive {
		a.phase.set(PhaseThreadActive)
	}
	a.gate.resolveAllDenied("turn finished")
}

func (a *Agent) clearTurn() {
	a.mu.Lock()
	a.currentBridge = nil
	a.currentTurn = nil
	a.mu.Unlock()
}

func (a *Agent) handlePreExecute(ctx context.Context, params json.RawMessage) (any, *JSONRPCError) {
	var p PreExecuteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return a.gate.DecideTool(ctx, p), nil
}

func (a *Agent) handleCommandApproval(ctx context.Context, params json.RawMessage) (any, *JSONRPCError) {
	var p CommandApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return ApprovalResult{Decision: a.gate.DecideCommandApproval(ctx, p)}, nil
}

func (a *Agent) handleFileChangeApproval(ctx context.Context, params json.RawMessage) (any, *JSONRPCError) {
	var p FileChangeApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return ApprovalResult{Decision: a.gate.DecideFileChangeApproval(ctx, p)}, nil
}

func (a *Agent) handlePlan(plan string) {
	a.mu.Lock()
	bridge := a.currentBridge
	threadID := a.threadID
	a.mu.Unlock()

	if a.cfg.onPlan != nil {
		a.cfg.onPlan(plan)
	}
	if bridge != nil {
		bridge.push(agentstream.InfoEvent{ThreadID: threadID, Message: "plan submitted for review"})
	}
	go a.ForceAbort(AbortReasonPlanSubmitted)
}

func (a *Agent) handleSourceActivated(source string) {
	a.mu.Lock()
	bridge := a.currentBridge
	threadID := a.threadID
	a.mu.Unlock()
	if bridge != nil {
		bridge.push(agentstream.SourceActivatedEvent{ThreadID: threadID, Source: source})
	}
}

func (a *Agent) handleAuthRequired(userCb func()) {
	a.mu.Lock()
	bridge := a.currentBridge
	threadID := a.threadID
	a.mu.Unlock()
	if bridge != nil {
		bridge.push(agentstream.TypedErrorEvent{
			ThreadID: threadID,
			Kind:     agentstream.ErrorKindAuth,
			Message:  "re-authentication required",
		})
	}
	a.gate.resolveAllDenied(AbortReasonAuthRequired)
	a.finishTurn()
	if userCb != nil {
		userCb()
	}
}

// handleProcessExit reacts to the runtime dying mid-session. The transport
// is already gone; surface the failure, end the turn, and leave the thread
// id in place so the next Chat resumes it.
func (a *Agent) handleProcessExit(err error) {
	a.logger.Warn("runtime exited unexpectedly", "err", err)
	a.mu.Lock()
	bridge := a.currentBridge
	threadID := a.threadID
	a.mu.Unlock()
	if bridge != nil && err != nil {
		bridge.push(agentstream.ErrorEvent{ThreadID: threadID, Err: err, Context: "process"})
	}
	a.gate.resolveAllDenied("connection lost")
	a.finishTurn()
	a.phase.set(PhaseNoThread)
}

// callWithAuthRetry retries a call exactly once after an unauthorized
// response, with freshly injected credentials.
func (a *Agent) callWithAuthRetry(ctx context.Context, method string, params, out any) error {
	err := a.client.Call(ctx, method, params, out)
	var rpcErr *RPCError
	if err == nil || !errors.As(err, &rpcErr) || rpcErr.Code != CodeUnauthorized {
		return err
	}

	a.logger.Info("unauthorized response, refreshing credentials", "method", method)
	creds, rerr := a.refresh.refresh(ctx)
	if rerr != nil {
		return rerr
	}
	if ierr := a.injectCredentials(ctx, creds); ierr != nil {
		return ierr
	}
	return a.client.Call(ctx, method, params, out)
}

func (a *Agent) injectCredentials(ctx context.Context, creds Credentials) error {
	return a.client.Call(ctx, MethodSetTokens, SetTokensParams{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		IDToken:      creds.IDToken,
	}, nil)
}

// maybeInjectCredentials pushes stored credentials into a fresh runtime,
// refreshing first when they are known to be expired. Failures are logged,
// not fatal: the retry path covers them later.
func (a *Agent) maybeInjectCredentials(ctx context.Context) {
	if a.cfg.store == nil {
		return
	}
	creds, err := a.cfg.store.Load(ctx)
	if err != nil {
		a.logger.Warn("load stored credentials failed", "err", err)
		return
	}
	if !creds.Valid() {
		return
	}
	if creds.Expired(time.Now()) && a.cfg.refresher != nil {
		fresh, rerr := a.refresh.refresh(ctx)
		if rerr != nil {
			a.logger.Warn("refresh expired credentials failed", "err", rerr)
			return
		}
		creds = fresh
	}
	if err := a.injectCredentials(ctx, creds); err != nil {
		a.logger.Warn("inject credentials failed", "err", err)
	}
}

func (a *Agent) recordExchange(role, text string) {
	if text == "" {
		return
	}
	if len(text) > recoveryTextLimit {
		cut := recoveryTextLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, exchange{role: role, text: text})
	if len(a.history) > a.cfg.historyLimit {
		a.history = a.history[len(a.history)-a.cfg.historyLimit:]
	}
}

// recoverySummaryLocked renders remembered exchanges as a preamble for the
// first message on a replacement thread. Caller holds a.mu.
func (a *Agent) recoverySummaryLocked() string {
	if len(a.history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context from the previous session, which ended unexpectedly:\n")
	for _, ex := range a.history {
		label := "User"
		if ex.role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, ex.text)
	}
	b.WriteString("\nContinue from this context.")
	return b.String()
}

func sandboxModeString(s *SandboxPolicy) string {
	if s == nil {
		return "workspace-write"
	}
	switch s.Type {
	case "readOnly":
		return "read-only"
	case "dangerFullAccess":
		return "danger-full-access"
	default:
		return "workspace-write"
	}
}
