// Package agentstream defines the backend-agnostic event vocabulary that
// agent bridges emit toward the host. Hosts consume these events without
// knowing which runtime produced them, so the set of kinds and their
// payload shapes are the stable contract of this module.
package agentstream

// EventKind identifies the event category.
type EventKind int

const (
	// KindUnknown is the zero value and never emitted by a conforming bridge.
	KindUnknown EventKind = iota
	KindToolStart
	KindToolResult
	KindTextDelta
	KindTextComplete
	KindStatus
	KindError
	KindTypedError
	KindComplete
	KindTodosUpdated
	KindUsageUpdate
	KindSourceActivated
	KindInfo
)

func (k EventKind) String() string {
	switch k {
	case KindToolStart:
		return "tool_start"
	case KindToolResult:
		return "tool_result"
	case KindTextDelta:
		return "text_delta"
	case KindTextComplete:
		return "text_complete"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindTypedError:
		return "typed_error"
	case KindComplete:
		return "complete"
	case KindTodosUpdated:
		return "todos_updated"
	case KindUsageUpdate:
		return "usage_update"
	case KindSourceActivated:
		return "source_activated"
	case KindInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Event is implemented by every value in the vocabulary.
type Event interface {
	StreamEventKind() EventKind
}

// Scoped is an optional interface for events that belong to a named scope
// (e.g. a thread ID). Consumers multiplexing several bridges over one sink
// filter by ScopeID.
type Scoped interface {
	ScopeID() string
}

// Usage aggregates token accounting for a turn or a whole thread.
type Usage struct {
	InputTokens           int64
	CachedInputTokens     int64
	OutputTokens          int64
	ReasoningOutputTokens int64
	TotalTokens           int64
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:           u.InputTokens + other.InputTokens,
		CachedInputTokens:     u.CachedInputTokens + other.CachedInputTokens,
		OutputTokens:          u.OutputTokens + other.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens + other.ReasoningOutputTokens,
		TotalTokens:           u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens have been recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Todo is one entry of an agent-managed task list.
type Todo struct {
	Text      string
	Completed bool
}

// ErrorKind classifies a TypedErrorEvent so hosts can branch without
// string matching.
type ErrorKind string

const (
	ErrorKindAuth          ErrorKind = "auth"
	ErrorKindUsageLimit    ErrorKind = "usage_limit"
	ErrorKindContextWindow ErrorKind = "context_window"
	ErrorKindInternal      ErrorKind = "internal"
)

// ToolStartEvent signals that a tool invocation began.
type ToolStartEvent struct {
	Input    map[string]interface{}
	ThreadID string
	ItemID   string
	Tool     string
}

func (e ToolStartEvent) StreamEventKind() EventKind { return KindToolStart }
func (e ToolStartEvent) ScopeID() string            { return e.ThreadID }

// ToolResultEvent signals that a tool invocation finished. IsError covers
// execution failures and declined invocations alike; BlockReason is set when
// the bridge (not the tool) refused the call.
type ToolResultEvent struct {
	ThreadID    string
	ItemID      string
	Tool        string
	// Path is the file a read-classified command targeted, empty for
	// everything else. Hosts rendering file viewers key off it.
	Path        string
	Output      string
	BlockReason string
	IsError     bool
}

func (e ToolResultEvent) StreamEventKind() EventKind { return KindToolResult }
func (e ToolResultEvent) ScopeID() string            { return e.ThreadID }

// TextDeltaEvent carries one streamed chunk of agent text. Thinking marks
// reasoning summaries as opposed to the final answer channel.
type TextDeltaEvent struct {
	ThreadID string
	ItemID   string
	Delta    string
	Thinking bool
}

func (e TextDeltaEvent) StreamEventKind() EventKind { return KindTextDelta }
func (e TextDeltaEvent) ScopeID() string            { return e.ThreadID }

// TextCompleteEvent carries the finalized text of a message item.
type TextCompleteEvent struct {
	ThreadID string
	ItemID   string
	Text     string
	Thinking bool
}

func (e TextCompleteEvent) StreamEventKind() EventKind { return KindTextComplete }
func (e TextCompleteEvent) ScopeID() string            { return e.ThreadID }

// StatusEvent reports a coarse bridge or runtime state change
// ("review started", "reconnecting", ...).
type StatusEvent struct {
	ThreadID string
	Status   string
}

func (e StatusEvent) StreamEventKind() EventKind { return KindStatus }
func (e StatusEvent) ScopeID() string            { return e.ThreadID }

// ErrorEvent carries an untyped failure with the context it occurred in.
type ErrorEvent struct {
	Err      error
	ThreadID string
	Context  string
}

func (e ErrorEvent) StreamEventKind() EventKind { return KindError }
func (e ErrorEvent) ScopeID() string            { return e.ThreadID }

// TypedErrorEvent carries a classified failure the host is expected to
// react to (re-auth, usage limits, context overflow).
type TypedErrorEvent struct {
	ThreadID string
	Kind     ErrorKind
	Message  string
}

func (e TypedErrorEvent) StreamEventKind() EventKind { return KindTypedError }
func (e TypedErrorEvent) ScopeID() string            { return e.ThreadID }

// CompleteEvent terminates a turn's event sequence. Exactly one is emitted
// per turn.
type CompleteEvent struct {
	ThreadID string
	TurnID   string
	Usage    Usage
}

func (e CompleteEvent) StreamEventKind() EventKind { return KindComplete }
func (e CompleteEvent) ScopeID() string            { return e.ThreadID }

// TodosUpdatedEvent carries the agent's current task list.
type TodosUpdatedEvent struct {
	ThreadID string
	ItemID   string
	Todos    []Todo
}

func (e TodosUpdatedEvent) StreamEventKind() EventKind { return KindTodosUpdated }
func (e TodosUpdatedEvent) ScopeID() string            { return e.ThreadID }

// UsageUpdateEvent reports cumulative token usage for the thread.
type UsageUpdateEvent struct {
	ThreadID string
	Usage    Usage
}

func (e UsageUpdateEvent) StreamEventKind() EventKind { return KindUsageUpdate }
func (e UsageUpdateEvent) ScopeID() string            { return e.ThreadID }

// SourceActivatedEvent reports that an external integration was switched on
// for the session as a side effect of a tool call.
type SourceActivatedEvent struct {
	ThreadID string
	Source   string
}

func (e SourceActivatedEvent) StreamEventKind() EventKind { return KindSourceActivated }
func (e SourceActivatedEvent) ScopeID() string            { return e.ThreadID }

// InfoEvent carries advisory text that is neither agent output nor an error.
type InfoEvent struct {
	ThreadID string
	Message  string
}

func (e InfoEvent) StreamEventKind() EventKind { return KindInfo }
func (e InfoEvent) ScopeID() string            { return e.ThreadID }
