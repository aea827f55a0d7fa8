package codex

import (
	"encoding/json"
	"fmt"
)

// Item statuses on the wire.
const (
	ItemStatusInProgress = "inProgress"
	ItemStatusCompleted  = "completed"
	ItemStatusFailed     = "failed"
	ItemStatusDeclined   = "declined"
)

// ThreadItem is one unit of agent activity inside a turn: a message, a
// reasoning block, a command, a file change, and so on. The set of
// implementations is closed; switches over it are exhaustive.
type ThreadItem interface {
	threadItem()
	ItemID() string
	ItemType() string
}

// ParsedCommand is the runtime's structured classification of one shell
// command inside a commandExecution item.
type ParsedCommand struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Cmd  string `json:"cmd,omitempty"`
}

// FileUpdateChange is one touched path inside a fileChange item.
type FileUpdateChange struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// AgentMessageItem is assistant-visible prose.
type AgentMessageItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ReasoningItem is a model thinking summary.
type ReasoningItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CommandExecutionItem is a shell command run by the agent.
type CommandExecutionItem struct {
	ID               string          `json:"id"`
	Command          string          `json:"command"`
	CWD              string          `json:"cwd,omitempty"`
	AggregatedOutput string          `json:"aggregatedOutput,omitempty"`
	ExitCode         *int            `json:"exitCode,omitempty"`
	Status           string          `json:"status,omitempty"`
	ParsedCmd        []ParsedCommand `json:"parsedCmd,omitempty"`
}

// FileChangeItem is a set of file edits applied by the agent.
type FileChangeItem struct {
	ID      string             `json:"id"`
	Changes []FileUpdateChange `json:"changes,omitempty"`
	Status  string             `json:"status,omitempty"`
}

// McpToolCallItem is an invocation of a tool on an external tool server.
type McpToolCallItem struct {
	ID     string          `json:"id"`
	Server string          `json:"server"`
	Tool   string          `json:"tool"`
	Status string          `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WebSearchItem is a web search performed by the agent.
type WebSearchItem struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

// ImageViewItem is an image the agent opened for inspection.
type ImageViewItem struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// CollabAgentToolCallItem is a delegation to a collaborating agent.
type CollabAgentToolCallItem struct {
	ID     string `json:"id"`
	Tool   string `json:"tool"`
	Prompt string `json:"prompt,omitempty"`
	Status string `json:"status,omitempty"`
}

// UserMessageItem echoes user input back through the item stream.
type UserMessageItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// EnteredReviewModeItem marks the start of a review session.
type EnteredReviewModeItem struct {
	ID     string `json:"id"`
	Review string `json:"review,omitempty"`
}

// ExitedReviewModeItem marks the end of a review session.
type ExitedReviewModeItem struct {
	ID     string `json:"id"`
	Review string `json:"review,omitempty"`
}

// TodoListItem is the agent's current task list.
type TodoListItem struct {
	ID    string     `json:"id"`
	Items []TodoItem `json:"items"`
}

// TodoItem is one entry in a TodoListItem.
type TodoItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// ErrorItem is a non-fatal error surfaced inside the item stream.
type ErrorItem struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (AgentMessageItem) threadItem()        {}
func (ReasoningItem) threadItem()           {}
func (CommandExecutionItem) threadItem()    {}
func (FileChangeItem) threadItem()          {}
func (McpToolCallItem) threadItem()         {}
func (WebSearchItem) threadItem()           {}
func (ImageViewItem) threadItem()           {}
func (CollabAgentToolCallItem) threadItem() {}
func (UserMessageItem) threadItem()         {}
func (EnteredReviewModeItem) threadItem()   {}
func (ExitedReviewModeItem) threadItem()    {}
func (TodoListItem) threadItem()            {}
func (ErrorItem) threadItem()               {}

func (i AgentMessageItem) ItemID() string        { return i.ID }
func (i ReasoningItem) ItemID() string           { return i.ID }
func (i CommandExecutionItem) ItemID() string    { return i.ID }
func (i FileChangeItem) ItemID() string          { return i.ID }
func (i McpToolCallItem) ItemID() string         { return i.ID }
func (i WebSearchItem) ItemID() string           { return i.ID }
func (i ImageViewItem) ItemID() string           { return i.ID }
func (i CollabAgentToolCallItem) ItemID() string { return i.ID }
func (i UserMessageItem) ItemID() string         { return i.ID }
func (i EnteredReviewModeItem) ItemID() string   { return i.ID }
func (i ExitedReviewModeItem) ItemID() string    { return i.ID }
func (i TodoListItem) ItemID() string            { return i.ID }
func (i ErrorItem) ItemID() string               { return i.ID }

// Item type discriminators on the wire.
const (
	ItemTypeAgentMessage        = "agentMessage"
	ItemTypeReasoning           = "reasoning"
	ItemTypeCommandExecution    = "commandExecution"
	ItemTypeFileChange          = "fileChange"
	ItemTypeMcpToolCall         = "mcpToolCall"
	ItemTypeWebSearch           = "webSearch"
	ItemTypeImageView           = "imageView"
	ItemTypeCollabAgentToolCall = "collabAgentToolCall"
	ItemTypeUserMessage         = "userMessage"
	ItemTypeEnteredReviewMode   = "enteredReviewMode"
	ItemTypeExitedReviewMode    = "exitedReviewMode"
	ItemTypeTodoList            = "todoList"
	ItemTypeError               = "error"
)

func (AgentMessageItem) ItemType() string        { return ItemTypeAgentMessage }
func (ReasoningItem) ItemType() string           { return ItemTypeReasoning }
func (CommandExecutionItem) ItemType() string    { return ItemTypeCommandExecution }
func (FileChangeItem) ItemType() string          { return ItemTypeFileChange }
func (McpToolCallItem) ItemType() string         { return ItemTypeMcpToolCall }
func (WebSearchItem) ItemType() string           { return ItemTypeWebSearch }
func (ImageViewItem) ItemType() string           { return ItemTypeImageView }
func (CollabAgentToolCallItem) ItemType() string { return ItemTypeCollabAgentToolCall }
func (UserMessageItem) ItemType() string         { return ItemTypeUserMessage }
func (EnteredReviewModeItem) ItemType() string   { return ItemTypeEnteredReviewMode }
func (ExitedReviewModeItem) ItemType() string    { return ItemTypeExitedReviewMode }
func (TodoListItem) ItemType() string            { return ItemTypeTodoList }
func (ErrorItem) ItemType() string               { return ItemTypeError }

// ParseThreadItem decodes a wire item into its concrete type. An unknown
// discriminator returns (nil, nil) so callers can log and move on without
// treating new item types as failures.
func ParseThreadItem(raw json.RawMessage) (ThreadItem, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("peek item type: %w", err)
	}

	decode := func(v ThreadItem) (ThreadItem, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", head.Type, err)
		}
		return v, nil
	}

	switch head.Type {
	case ItemTypeAgentMessage:
		return decode(&AgentMessageItem{})
	case ItemTypeReasoning:
		return decode(&ReasoningItem{})
	case ItemTypeCommandExecution:
		return decode(&CommandExecutionItem{})
	case ItemTypeFileChange:
		return decode(&FileChangeItem{})
	case ItemTypeMcpToolCall:
		return decode(&McpToolCallItem{})
	case ItemTypeWebSearch:
		return decode(&WebSearchItem{})
	case ItemTypeImageView:
		return decode(&ImageViewItem{})
	case ItemTypeCollabAgentToolCall:
		return decode(&CollabAgentToolCallItem{})
	case ItemTypeUserMessage:
		return decode(&UserMessageItem{})
	case ItemTypeEnteredReviewMode:
		return decode(&EnteredReviewModeItem{})
	case ItemTypeExitedReviewMode:
		return decode(&ExitedReviewModeItem{})
	case ItemTypeTodoList:
		return decode(&TodoListItem{})
	case ItemTypeError:
		return decode(&ErrorItem{})
	default:
		return nil, nil
	}
}
