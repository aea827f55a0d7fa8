package codex

import (
	"encoding/json"
	"sync/atomic"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeUnauthorized is used by the runtime when credentials are missing
	// or expired.
	CodeUnauthorized = 401
)

// Request methods the client sends to the runtime.
const (
	MethodInitialize    = "initialize"
	MethodThreadStart   = "thread/start"
	MethodThreadResume  = "thread/resume"
	MethodTurnStart     = "turn/start"
	MethodTurnInterrupt = "turn/interrupt"
	MethodAccountRead   = "account/read"
	MethodAccountLogout = "account/logout"
	MethodSetTokens     = "account/setTokens"
)

// Request methods the runtime sends to the client.
const (
	MethodCommandApproval    = "item/commandExecution/requestApproval"
	MethodFileChangeApproval = "item/fileChange/requestApproval"
	MethodToolPreExecute     = "tool/preExecute"
)

// NotifyInitialized is sent by the client after a successful initialize
// response to signal it is ready for traffic.
const NotifyInitialized = "initialized"

// Notification methods the runtime sends to the client.
const (
	NotifyThreadStarted     = "thread/started"
	NotifyTurnStarted       = "turn/started"
	NotifyTurnCompleted     = "turn/completed"
	NotifyTurnFailed        = "turn/failed"
	NotifyItemStarted       = "item/started"
	NotifyItemUpdated       = "item/updated"
	NotifyItemCompleted     = "item/completed"
	NotifyAgentMessageDelta = "item/agentMessage/delta"
	NotifyReasoningDelta    = "item/reasoning/summaryTextDelta"
	NotifyCommandOutput     = "item/commandExecution/outputDelta"
	NotifyTokenUsage        = "thread/tokenUsage/updated"
)

// message is the JSON-RPC 2.0 envelope. A request has ID and Method, a
// response has ID and Result or Error, a notification has Method only.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a JSON-RPC response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// idGenerator produces monotonically increasing request ids.
type idGenerator struct {
	next atomic.Int64
}

func (g *idGenerator) nextID() int64 {
	return g.next.Add(1)
}

func newRequest(id int64, method string, params any) (*message, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &message{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  raw,
	}, nil
}

func newNotification(method string, params any) (*message, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &message{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
	}, nil
}

func newResponse(id int64, result any) (*message, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &message{
		JSONRPC: "2.0",
		ID:      &id,
		Result:  b,
	}, nil
}

func newErrorResponse(id int64, code int, msg string) *message {
	return &message{
		JSONRPC: "2.0",
		ID:      &id,
		Error:   &JSONRPCError{Code: code, Message: msg},
	}
}
