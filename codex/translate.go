package codex

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bazelment/agentbridge/agentstream"
)

// Tool names exposed on the uniform event stream.
const (
	ToolBash      = "Bash"
	ToolRead      = "Read"
	ToolEdit      = "Edit"
	ToolWebSearch = "WebSearch"
	ToolViewImage = "ViewImage"
	ToolAgent     = "Agent"
)

// translator converts wire notifications into stream events. It carries
// turn-scoped state: accumulated command output, the tool chosen for each
// item at start time, and block reasons recorded by the permission gate.
type translator struct {
	logger *slog.Logger

	mu           sync.Mutex
	threadID     string
	turnID       string
	cmdOutput    map[string]*strings.Builder
	toolNames    map[string]string
	readTargets  map[string]string
	blockReasons map[string]string
}

func newTranslator(logger *slog.Logger) *translator {
	if logger == nil {
		logger = nopLogger
	}
	t := &translator{logger: logger}
	t.reset("", "")
	return t
}

// beginTurn clears per-turn state. Item ids are unique within a turn, not
// across turns, so stale entries must not leak forward.
func (t *translator) beginTurn(threadID, turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(threadID, turnID)
}

func (t *translator) reset(threadID, turnID string) {
	t.threadID = threadID
	t.turnID = turnID
	t.cmdOutput = make(map[string]*strings.Builder)
	t.toolNames = make(map[string]string)
	t.readTargets = make(map[string]string)
	t.blockReasons = make(map[string]string)
}

// recordBlock remembers that the gate refused an item, so the eventual
// tool result carries the reason.
func (t *translator) recordBlock(itemID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockReasons[itemID] = reason
}

// translate maps one notification to zero or more stream events.
func (t *translator) translate(n Notification) []agentstream.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch n := n.(type) {
	case ThreadStartedNotification:
		return nil

	case TurnStartedNotification:
		return []agentstream.Event{agentstream.StatusEvent{
			ThreadID: n.ThreadID,
			Status:   "turn_started",
		}}

	case TurnCompletedNotification:
		var usage agentstream.Usage
		if n.Turn.Usage != nil {
			usage = streamUsage(*n.Turn.Usage)
		}
		return []agentstream.Event{agentstream.CompleteEvent{
			ThreadID: n.ThreadID,
			TurnID:   n.Turn.ID,
			Usage:    usage,
		}}

	case TurnFailedNotification:
		events := []agentstream.Event{t.turnFailure(n)}
		turnID := t.turnID
		if n.Turn != nil {
			turnID = n.Turn.ID
		}
		return append(events, agentstream.CompleteEvent{
			ThreadID: n.ThreadID,
			TurnID:   turnID,
		})

	case ItemStartedNotification:
		return t.itemStarted(n.ThreadID, n.Item)

	case ItemUpdatedNotification:
		return t.itemUpdated(n.ThreadID, n.Item)

	case ItemCompletedNotification:
		return t.itemCompleted(n.ThreadID, n.Item)

	case AgentMessageDeltaNotification:
		return []agentstream.Event{agentstream.TextDeltaEvent{
			ThreadID: n.ThreadID,
			ItemID:   n.ItemID,
			Delta:    n.Delta,
		}}

	case ReasoningDeltaNotification:
		return []agentstream.Event{agentstream.TextDeltaEvent{
			ThreadID: n.ThreadID,
			ItemID:   n.ItemID,
			Delta:    n.Delta,
			Thinking: true,
		}}

	case CommandOutputDeltaNotification:
		b, ok := t.cmdOutput[n.ItemID]
		if !ok {
			b = &strings.Builder{}
			t.cmdOutput[n.ItemID] = b
		}
		b.WriteString(n.Delta)
		return nil

	case TokenUsageNotification:
		return []agentstream.Event{agentstream.UsageUpdateEvent{
			ThreadID: n.ThreadID,
			Usage:    streamUsage(n.Usage.Total),
		}}

	default:
		t.logger.Warn("no translation for notification", "method", n.NotificationMethod())
		return nil
	}
}

func (t *translator) turnFailure(n TurnFailedNotification) agentstream.Event {
	msg := "turn failed"
	kindHint := ""
	if n.Error != nil {
		if n.Error.Message != "" {
			msg = n.Error.Message
		}
		kindHint = n.Error.Kind
	}
	if kind, ok := classifyFailure(kindHint, msg); ok {
		return agentstream.TypedErrorEvent{ThreadID: n.ThreadID, Kind: kind, Message: msg}
	}
	return agentstream.ErrorEvent{ThreadID: n.ThreadID, Err: errors.New(msg), Context: "turn"}
}

func (t *translator) itemStarted(threadID string, item ThreadItem) []agentstream.Event {
	switch item := item.(type) {
	case *CommandExecutionItem:
		tool, input := t.classifyCommand(item)
		t.toolNames[item.ID] = tool
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     tool,
			Input:    input,
		}}

	case *FileChangeItem:
		t.toolNames[item.ID] = ToolEdit
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     ToolEdit,
			Input:    map[string]interface{}{"paths": changePaths(item.Changes)},
		}}

	case *McpToolCallItem:
		tool := mcpToolName(item.Server, item.Tool)
		t.toolNames[item.ID] = tool
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     tool,
			Input:    decodeToolInput(item.Input),
		}}

	case *WebSearchItem:
		t.toolNames[item.ID] = ToolWebSearch
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     ToolWebSearch,
			Input:    map[string]interface{}{"query": item.Query},
		}}

	case *ImageViewItem:
		t.toolNames[item.ID] = ToolViewImage
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     ToolViewImage,
			Input:    map[string]interface{}{"path": item.Path},
		}}

	case *CollabAgentToolCallItem:
		t.toolNames[item.ID] = ToolAgent
		return []agentstream.Event{agentstream.ToolStartEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     ToolAgent,
			Input:    map[string]interface{}{"tool": item.Tool, "prompt": item.Prompt},
		}}

	case *TodoListItem:
		return []agentstream.Event{t.todosEvent(threadID, item)}

	case *EnteredReviewModeItem:
		return []agentstream.Event{agentstream.StatusEvent{ThreadID: threadID, Status: "review_started"}}

	case *AgentMessageItem, *ReasoningItem, *UserMessageItem,
		*ExitedReviewModeItem, *ErrorItem:
		return nil

	default:
		return nil
	}
}

func (t *translator) itemUpdated(threadID string, item ThreadItem) []agentstream.Event {
	// Updates are snapshots. Only the todo list is worth re-emitting; for
	// everything else the deltas and the completion carry the content.
	if todo, ok := item.(*TodoListItem); ok {
		return []agentstream.Event{t.todosEvent(threadID, todo)}
	}
	return nil
}

func (t *translator) itemCompleted(threadID string, item ThreadItem) []agentstream.Event {
	switch item := item.(type) {
	case *AgentMessageItem:
		return []agentstream.Event{agentstream.TextCompleteEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Text:     item.Text,
		}}

	case *ReasoningItem:
		return []agentstream.Event{agentstream.TextCompleteEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Text:     item.Text,
			Thinking: true,
		}}

	case *CommandExecutionItem:
		output := item.AggregatedOutput
		if output == "" {
			if b, ok := t.cmdOutput[item.ID]; ok {
				output = b.String()
			}
		}
		isError := item.Status == ItemStatusFailed || item.Status == ItemStatusDeclined
		if item.ExitCode != nil && *item.ExitCode != 0 {
			isError = true
		}
		target := t.readTargets[item.ID]
		ev := agentstream.ToolResultEvent{
			ThreadID:    threadID,
			ItemID:      item.ID,
			Tool:        t.finishTool(item.ID),
			Path:        target,
			Output:      output,
			BlockReason: t.blockReasons[item.ID],
			IsError:     isError,
		}
		delete(t.cmdOutput, item.ID)
		delete(t.blockReasons, item.ID)
		return []agentstream.Event{ev}

	case *FileChangeItem:
		ev := agentstream.ToolResultEvent{
			ThreadID:    threadID,
			ItemID:      item.ID,
			Tool:        t.finishTool(item.ID),
			Output:      summarizeChanges(item.Changes),
			BlockReason: t.blockReasons[item.ID],
			IsError:     item.Status == ItemStatusFailed || item.Status == ItemStatusDeclined,
		}
		delete(t.blockReasons, item.ID)
		return []agentstream.Event{ev}

	case *McpToolCallItem:
		ev := agentstream.ToolResultEvent{
			ThreadID:    threadID,
			ItemID:      item.ID,
			Tool:        t.finishTool(item.ID),
			Output:      string(item.Output),
			BlockReason: t.blockReasons[item.ID],
			IsError:     item.Status == ItemStatusFailed || item.Error != "",
		}
		delete(t.blockReasons, item.ID)
		return []agentstream.Event{ev}

	case *WebSearchItem, *ImageViewItem:
		return []agentstream.Event{agentstream.ToolResultEvent{
			ThreadID: threadID,
			ItemID:   item.ItemID(),
			Tool:     t.finishTool(item.ItemID()),
		}}

	case *CollabAgentToolCallItem:
		return []agentstream.Event{agentstream.ToolResultEvent{
			ThreadID: threadID,
			ItemID:   item.ID,
			Tool:     t.finishTool(item.ID),
			IsError:  item.Status == ItemStatusFailed,
		}}

	case *UserMessageItem:
		return []agentstream.Event{agentstream.InfoEvent{
			ThreadID: threadID,
			Message:  item.Text,
		}}

	case *EnteredReviewModeItem:
		return nil

	case *ExitedReviewModeItem:
		return []agentstream.Event{agentstream.StatusEvent{ThreadID: threadID, Status: "review_ended"}}

	case *TodoListItem:
		return []agentstream.Event{t.todosEvent(threadID, item)}

	case *ErrorItem:
		if kind, ok := classifyFailure("", item.Message); ok {
			return []agentstream.Event{agentstream.TypedErrorEvent{
				ThreadID: threadID,
				Kind:     kind,
				Message:  item.Message,
			}}
		}
		return []agentstream.Event{agentstream.ErrorEvent{
			ThreadID: threadID,
			Err:      errors.New(item.Message),
			Context:  "item",
		}}

	default:
		return nil
	}
}

// classifyCommand picks the tool and input for a command item. A structured
// single-read classification from the runtime wins; otherwise a small set of
// plain reader commands is recognized by shape, and everything else is Bash.
func (t *translator) classifyCommand(item *CommandExecutionItem) (string, map[string]interface{}) {
	if len(item.ParsedCmd) == 1 && item.ParsedCmd[0].Type == "read" && item.ParsedCmd[0].Name != "" {
		t.readTargets[item.ID] = item.ParsedCmd[0].Name
		return ToolRead, map[string]interface{}{"path": item.ParsedCmd[0].Name}
	}
	if path, ok := classifyReadCommand(item.Command); ok {
		t.readTargets[item.ID] = path
		return ToolRead, map[string]interface{}{"path": path}
	}
	input := map[string]interface{}{"command": item.Command}
	if item.CWD != "" {
		input["cwd"] = item.CWD
	}
	return ToolBash, input
}

func (t *translator) finishTool(itemID string) string {
	tool, ok := t.toolNames[itemID]
	delete(t.toolNames, itemID)
	delete(t.readTargets, itemID)
	if !ok {
		return ToolBash
	}
	return tool
}

func (t *translator) todosEvent(threadID string, item *TodoListItem) agentstream.Event {
	todos := make([]agentstream.Todo, 0, len(item.Items))
	for _, td := range item.Items {
		todos = append(todos, agentstream.Todo{Text: td.Text, Completed: td.Completed})
	}
	return agentstream.TodosUpdatedEvent{ThreadID: threadID, ItemID: item.ID, Todos: todos}
}

func streamUsage(u Usage) agentstream.Usage {
	return agentstream.Usage{
		InputTokens:           u.InputTokens,
		CachedInputTokens:     u.CachedInputTokens,
		OutputTokens:          u.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens,
		TotalTokens:           u.TotalTokens,
	}
}

func mcpToolName(server, tool string) string {
	return fmt.Sprintf("mcp__%s__%s", server, tool)
}

func decodeToolInput(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"raw": string(raw)}
	}
	return m
}

func changePaths(changes []FileUpdateChange) []string {
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		paths = append(paths, ch.Path)
	}
	return paths
}

func summarizeChanges(changes []FileUpdateChange) string {
	if len(changes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(changes))
	for _, ch := range changes {
		kind := ch.Kind
		if kind == "" {
			kind = "update"
		}
		parts = append(parts, fmt.Sprintf("%s %s", kind, ch.Path))
	}
	return strings.Join(parts, ", ")
}

// classifyFailure maps a runtime error kind or message onto a typed error
// the host can react to. Unmatched failures stay untyped.
func classifyFailure(kindHint, msg string) (agentstream.ErrorKind, bool) {
	switch kindHint {
	case "unauthorized", "authRequired":
		return agentstream.ErrorKindAuth, true
	case "usageLimit", "rateLimit":
		return agentstream.ErrorKindUsageLimit, true
	case "contextWindow":
		return agentstream.ErrorKindContextWindow, true
	case "internal":
		return agentstream.ErrorKindInternal, true
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "usage limit"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota exceeded"):
		return agentstream.ErrorKindUsageLimit, true
	case strings.Contains(lower, "context window"),
		strings.Contains(lower, "context length"),
		strings.Contains(lower, "prompt too long"):
		return agentstream.ErrorKindContextWindow, true
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "token expired"),
		strings.Contains(lower, "logged out"):
		return agentstream.ErrorKindAuth, true
	}
	return "", false
}
