package codex

import (
	"encoding/json"
	"fmt"
)

// Notification is a server-to-client event. The set of implementations is
// closed; switches over it are exhaustive.
type Notification interface {
	notification()
	NotificationMethod() string
}

// ThreadStartedNotification announces a new thread.
type ThreadStartedNotification struct {
	ThreadID string
}

// TurnStartedNotification announces a new turn on a thread.
type TurnStartedNotification struct {
	ThreadID string
	Turn     TurnObject
}

// TurnCompletedNotification announces a finished turn, carrying its final
// status and usage.
type TurnCompletedNotification struct {
	ThreadID string
	Turn     TurnObject
}

// TurnFailedNotification announces a turn that ended in an error.
type TurnFailedNotification struct {
	ThreadID string
	Turn     *TurnObject
	Error    *TurnError
}

// ItemStartedNotification announces a new item inside the active turn.
type ItemStartedNotification struct {
	ThreadID string
	TurnID   string
	Item     ThreadItem
}

// ItemUpdatedNotification carries a fresh snapshot of an in-progress item.
type ItemUpdatedNotification struct {
	ThreadID string
	TurnID   string
	Item     ThreadItem
}

// ItemCompletedNotification carries the final state of an item.
type ItemCompletedNotification struct {
	ThreadID string
	TurnID   string
	Item     ThreadItem
}

// AgentMessageDeltaNotification is a streamed chunk of assistant prose.
type AgentMessageDeltaNotification struct {
	ThreadID string
	TurnID   string
	ItemID   string
	Delta    string
}

// ReasoningDeltaNotification is a streamed chunk of thinking summary.
type ReasoningDeltaNotification struct {
	ThreadID string
	TurnID   string
	ItemID   string
	Delta    string
}

// CommandOutputDeltaNotification is a streamed chunk of command output.
type CommandOutputDeltaNotification struct {
	ThreadID string
	TurnID   string
	ItemID   string
	Delta    string
}

// TokenUsageNotification reports updated token accounting for a thread.
type TokenUsageNotification struct {
	ThreadID string
	Usage    TokenUsage
}

func (ThreadStartedNotification) notification()      {}
func (TurnStartedNotification) notification()        {}
func (TurnCompletedNotification) notification()      {}
func (TurnFailedNotification) notification()         {}
func (ItemStartedNotification) notification()        {}
func (ItemUpdatedNotification) notification()        {}
func (ItemCompletedNotification) notification()      {}
func (AgentMessageDeltaNotification) notification()  {}
func (ReasoningDeltaNotification) notification()     {}
func (CommandOutputDeltaNotification) notification() {}
func (TokenUsageNotification) notification()         {}

func (ThreadStartedNotification) NotificationMethod() string  { return NotifyThreadStarted }
func (TurnStartedNotification) NotificationMethod() string    { return NotifyTurnStarted }
func (TurnCompletedNotification) NotificationMethod() string  { return NotifyTurnCompleted }
func (TurnFailedNotification) NotificationMethod() string     { return NotifyTurnFailed }
func (ItemStartedNotification) NotificationMethod() string    { return NotifyItemStarted }
func (ItemUpdatedNotification) NotificationMethod() string    { return NotifyItemUpdated }
func (ItemCompletedNotification) NotificationMethod() string  { return NotifyItemCompleted }
func (AgentMessageDeltaNotification) NotificationMethod() string {
	return NotifyAgentMessageDelta
}
func (ReasoningDeltaNotification) NotificationMethod() string { return NotifyReasoningDelta }
func (CommandOutputDeltaNotification) NotificationMethod() string {
	return NotifyCommandOutput
}
func (TokenUsageNotification) NotificationMethod() string { return NotifyTokenUsage }

type threadScopedParams struct {
	ThreadID string     `json:"threadId"`
	Turn     TurnObject `json:"turn"`
}

type turnFailedParams struct {
	ThreadID string      `json:"threadId"`
	Turn     *TurnObject `json:"turn,omitempty"`
	Error    *TurnError  `json:"error,omitempty"`
}

type itemParams struct {
	ThreadID string          `json:"threadId"`
	TurnID   string          `json:"turnId"`
	Item     json.RawMessage `json:"item"`
}

type deltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}

type tokenUsageParams struct {
	ThreadID   string     `json:"threadId"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// parseNotification decodes a wire notification into its concrete type.
// Unknown methods, and item notifications whose nested item type is unknown,
// return (nil, nil) so callers can log and drop them.
func parseNotification(method string, params json.RawMessage) (Notification, error) {
	switch method {
	case NotifyThreadStarted:
		var p struct {
			ThreadID string `json:"threadId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return ThreadStartedNotification{ThreadID: p.ThreadID}, nil

	case NotifyTurnStarted:
		var p threadScopedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return TurnStartedNotification{ThreadID: p.ThreadID, Turn: p.Turn}, nil

	case NotifyTurnCompleted:
		var p threadScopedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return TurnCompletedNotification{ThreadID: p.ThreadID, Turn: p.Turn}, nil

	case NotifyTurnFailed:
		var p turnFailedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return TurnFailedNotification{ThreadID: p.ThreadID, Turn: p.Turn, Error: p.Error}, nil

	case NotifyItemStarted, NotifyItemUpdated, NotifyItemCompleted:
		var p itemParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		item, err := ParseThreadItem(p.Item)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		if item == nil {
			return nil, nil
		}
		switch method {
		case NotifyItemStarted:
			return ItemStartedNotification{ThreadID: p.ThreadID, TurnID: p.TurnID, Item: item}, nil
		case NotifyItemUpdated:
			return ItemUpdatedNotification{ThreadID: p.ThreadID, TurnID: p.TurnID, Item: item}, nil
		default:
			return ItemCompletedNotification{ThreadID: p.ThreadID, TurnID: p.TurnID, Item: item}, nil
		}

	case NotifyAgentMessageDelta:
		var p deltaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return AgentMessageDeltaNotification{
			ThreadID: p.ThreadID, TurnID: p.TurnID, ItemID: p.ItemID, Delta: p.Delta,
		}, nil

	case NotifyReasoningDelta:
		var p deltaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return ReasoningDeltaNotification{
			ThreadID: p.ThreadID, TurnID: p.TurnID, ItemID: p.ItemID, Delta: p.Delta,
		}, nil

	case NotifyCommandOutput:
		var p deltaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return CommandOutputDeltaNotification{
			ThreadID: p.ThreadID, TurnID: p.TurnID, ItemID: p.ItemID, Delta: p.Delta,
		}, nil

	case NotifyTokenUsage:
		var p tokenUsageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return TokenUsageNotification{ThreadID: p.ThreadID, Usage: p.TokenUsage}, nil

	default:
		return nil, nil
	}
}
