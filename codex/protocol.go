package codex

import "encoding/json"

// ApprovalPolicy controls when the runtime asks before executing commands.
type ApprovalPolicy string

const (
	// ApprovalUntrusted asks for everything outside a small trusted set.
	ApprovalUntrusted ApprovalPolicy = "untrusted"

	// ApprovalOnFailure runs commands in the sandbox and only asks when one
	// fails there.
	ApprovalOnFailure ApprovalPolicy = "on-failure"

	// ApprovalOnRequest lets the model decide when to ask.
	ApprovalOnRequest ApprovalPolicy = "on-request"

	// ApprovalNever never asks.
	ApprovalNever ApprovalPolicy = "never"
)

// SandboxPolicy describes the write/network envelope a turn runs under.
type SandboxPolicy struct {
	Type          string   `json:"type"`
	WritableRoots []string `json:"writableRoots,omitempty"`
	NetworkAccess bool     `json:"networkAccess,omitempty"`
}

// WorkspaceWriteSandbox builds the standard workspace-write sandbox policy.
func WorkspaceWriteSandbox(writableRoots []string, network bool) *SandboxPolicy {
	return &SandboxPolicy{
		Type:          "workspaceWrite",
		WritableRoots: writableRoots,
		NetworkAccess: network,
	}
}

// InitializeParams is sent once after the subprocess starts.
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies this client to the runtime.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the runtime's handshake reply.
type InitializeResult struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// ThreadStartParams creates a new conversation thread.
type ThreadStartParams struct {
	Model          string         `json:"model,omitempty"`
	CWD            string         `json:"cwd,omitempty"`
	ApprovalPolicy ApprovalPolicy `json:"approvalPolicy,omitempty"`
	Sandbox        string         `json:"sandbox,omitempty"`
}

// ThreadStartResult carries the new thread's identity.
type ThreadStartResult struct {
	Thread ThreadInfo `json:"thread"`
}

// ThreadInfo is the runtime's view of a thread.
type ThreadInfo struct {
	ID string `json:"id"`
}

// ThreadResumeParams reattaches to an existing thread after a restart.
type ThreadResumeParams struct {
	ThreadID string `json:"threadId"`
}

// ThreadResumeResult mirrors ThreadStartResult.
type ThreadResumeResult struct {
	Thread ThreadInfo `json:"thread"`
}

// InputItem is one piece of user input in a turn.
type InputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextInput builds a plain text input item.
func TextInput(text string) InputItem {
	return InputItem{Type: "text", Text: text}
}

// TurnStartParams begins a turn on a thread.
type TurnStartParams struct {
	ThreadID       string         `json:"threadId"`
	Input          []InputItem    `json:"input"`
	CWD            string         `json:"cwd,omitempty"`
	Model          string         `json:"model,omitempty"`
	Effort         string         `json:"effort,omitempty"`
	ApprovalPolicy ApprovalPolicy `json:"approvalPolicy,omitempty"`
	SandboxPolicy  *SandboxPolicy `json:"sandboxPolicy,omitempty"`
}

// TurnStartResult acknowledges the new turn.
type TurnStartResult struct {
	Turn TurnObject `json:"turn"`
}

// TurnObject is the runtime's view of a turn.
type TurnObject struct {
	ID     string     `json:"id"`
	Status string     `json:"status,omitempty"`
	Error  *TurnError `json:"error,omitempty"`
	Usage  *Usage     `json:"usage,omitempty"`
}

// TurnError describes why a turn failed.
type TurnError struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// TurnInterruptParams asks the runtime to stop the active turn.
type TurnInterruptParams struct {
	ThreadID string `json:"threadId"`
}

// Usage is the runtime's token accounting for a turn or thread.
type Usage struct {
	InputTokens           int64 `json:"inputTokens"`
	CachedInputTokens     int64 `json:"cachedInputTokens"`
	OutputTokens          int64 `json:"outputTokens"`
	ReasoningOutputTokens int64 `json:"reasoningOutputTokens"`
	TotalTokens           int64 `json:"totalTokens"`
}

// TokenUsage splits cumulative and last-turn token counts.
type TokenUsage struct {
	Total    Usage `json:"total"`
	LastTurn Usage `json:"lastTokenUsage"`
}

// CommandApprovalParams is the runtime asking permission to run a command.
type CommandApprovalParams struct {
	ThreadID string   `json:"threadId"`
	TurnID   string   `json:"turnId"`
	ItemID   string   `json:"itemId"`
	Command  []string `json:"command,omitempty"`
	CWD      string   `json:"cwd,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// FileChangeApprovalParams is the runtime asking permission to apply edits.
type FileChangeApprovalParams struct {
	ThreadID  string `json:"threadId"`
	TurnID    string `json:"turnId"`
	ItemID    string `json:"itemId"`
	Reason    string `json:"reason,omitempty"`
	GrantRoot string `json:"grantRoot,omitempty"`
}

// Approval decisions on the wire.
const (
	DecisionAccept  = "accept"
	DecisionDecline = "decline"
)

// ApprovalResult answers an approval request.
type ApprovalResult struct {
	Decision string `json:"decision"`
}

// PreExecuteParams is the pre-execution hook: the runtime describes a tool
// call it is about to make and waits for a decision.
type PreExecuteParams struct {
	ThreadID string          `json:"threadId"`
	TurnID   string          `json:"turnId"`
	ItemID   string          `json:"itemId"`
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input"`
}

// ToolDecision is the externally tagged answer to a pre-execution hook.
// Exactly one of the three fields is set.
type ToolDecision struct {
	Allow  *AllowDecision  `json:"allow,omitempty"`
	Block  *BlockDecision  `json:"block,omitempty"`
	Modify *ModifyDecision `json:"modify,omitempty"`
}

// AllowDecision permits the tool call unchanged.
type AllowDecision struct{}

// BlockDecision refuses the tool call with a reason the model sees.
type BlockDecision struct {
	Reason string `json:"reason"`
}

// ModifyDecision permits the tool call with rewritten input.
type ModifyDecision struct {
	Input json.RawMessage `json:"input"`
}

// AllowTool builds an allow decision.
func AllowTool() ToolDecision {
	return ToolDecision{Allow: &AllowDecision{}}
}

// BlockTool builds a block decision with the given reason.
func BlockTool(reason string) ToolDecision {
	return ToolDecision{Block: &BlockDecision{Reason: reason}}
}

// ModifyTool builds a modify decision carrying replacement input.
func ModifyTool(input json.RawMessage) ToolDecision {
	return ToolDecision{Modify: &ModifyDecision{Input: input}}
}

// AccountReadParams fetches account state, optionally forcing a token
// refresh inside the runtime.
type AccountReadParams struct {
	RefreshToken bool `json:"refreshToken"`
}

// AccountInfo is the runtime's view of the signed-in account.
type AccountInfo struct {
	Email    string `json:"email,omitempty"`
	PlanType string `json:"planType,omitempty"`
}

// AccountReadResult wraps account state.
type AccountReadResult struct {
	Account *AccountInfo `json:"account,omitempty"`
}

// SetTokensParams injects refreshed credentials into the runtime.
type SetTokensParams struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
}
