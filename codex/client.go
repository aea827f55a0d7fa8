package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bazelment/agentbridge/internal/ndjson"
)

// NotificationSink receives parsed notifications from the read loop.
// Delivery is synchronous: once SetNotificationSink returns, the previous
// sink will not be called again.
type NotificationSink interface {
	HandleNotification(n Notification)
}

// NotificationSinkFunc adapts a function to a NotificationSink.
type NotificationSinkFunc func(n Notification)

func (f NotificationSinkFunc) HandleNotification(n Notification) { f(n) }

// RequestHandler answers a server-to-client request. Returning a
// *JSONRPCError sends an error response instead of a result.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, *JSONRPCError)

type rpcResult struct {
	result json.RawMessage
	rpcErr *JSONRPCError
	err    error
}

// Client is a JSON-RPC client over the stdio of a runtime subprocess. It
// multiplexes concurrent requests, dispatches server-to-client requests to
// registered handlers, and forwards notifications to a sink.
type Client struct {
	cfg   clientConfig
	state *connStateManager
	ids   idGenerator

	connMu    sync.RWMutex
	proc      *processManager
	queue     *writeQueue
	reader    *ndjson.Reader
	runCtx    context.Context
	runCancel context.CancelFunc
	readDone  chan struct{}

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResult

	handlerMu sync.RWMutex
	handlers  map[string]RequestHandler

	sinkMu sync.RWMutex
	sink   NotificationSink
}

// NewClient builds a client. Connect must be called before use.
func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		cfg:      cfg,
		state:    newConnStateManager(),
		pending:  make(map[int64]chan *rpcResult),
		handlers: make(map[string]RequestHandler),
	}
}

// State reports the current connection state.
func (c *Client) State() ConnState {
	return c.state.current()
}

// Connect spawns the runtime subprocess, wires the stdio pipes, and performs
// the initialize handshake. The context bounds spawn and handshake only.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.state.transition(StateDisconnected, StateConnecting); err != nil {
		return ErrAlreadyConnected
	}

	proc := newProcessManager(processConfig{
		command: c.cfg.command,
		args:    c.cfg.args,
		dir:     c.cfg.workDir,
		env:     c.cfg.env,
		logger:  c.cfg.logger,
	})
	if err := proc.start(); err != nil {
		c.state.set(StateDisconnected)
		return err
	}

	c.connMu.Lock()
	c.proc = proc
	c.connMu.Unlock()
	c.begin(proc.stdout, proc.stdin)
	go c.watchExit(proc)

	if err := c.initialize(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	if err := c.state.transition(StateConnecting, StateConnected); err != nil {
		return err
	}
	return nil
}

// begin wires the read loop and write queue over the given pipes. Tests use
// connectPipes to drive a client without a subprocess.
func (c *Client) begin(r io.Reader, w io.Writer) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.connMu.Lock()
	c.reader = ndjson.NewReader(r)
	var abort func()
	if wc, ok := w.(io.Closer); ok {
		abort = func() { _ = wc.Close() }
	}
	c.queue = newWriteQueue(ndjson.NewWriter(w), abort)
	c.runCtx = runCtx
	c.runCancel = cancel
	c.readDone = make(chan struct{})
	c.connMu.Unlock()
	go c.readLoop()
}

// connectPipes puts the client into the connected state over in-memory
// pipes, bypassing process spawn and handshake.
func (c *Client) connectPipes(r io.Reader, w io.Writer) {
	c.state.set(StateConnected)
	c.begin(r, w)
}

func (c *Client) initialize(ctx context.Context) error {
	var res InitializeResult
	err := c.Call(ctx, MethodInitialize, InitializeParams{
		ClientInfo: ClientInfo{
			Name:    c.cfg.clientName,
			Version: c.cfg.clientVersion,
		},
	}, &res)
	if err != nil {
		return err
	}
	if err := c.Notify(ctx, NotifyInitialized, struct{}{}); err != nil {
		return err
	}
	c.cfg.logger.Debug("handshake complete", "userAgent", res.UserAgent)
	return nil
}

// watchExit reacts to the subprocess dying out from under us.
func (c *Client) watchExit(proc *processManager) {
	c.connMu.RLock()
	runCtx := c.runCtx
	c.connMu.RUnlock()

	select {
	case <-proc.exited:
	case <-runCtx.Done():
		return
	}
	if c.state.current() == StateDisconnecting {
		return
	}

	exitErr := proc.exitError()
	c.cfg.logger.Warn("runtime process exited unexpectedly", "err", exitErr)
	c.teardown()
	if c.cfg.onProcessExit != nil {
		c.cfg.onProcessExit(exitErr)
	}
}

// Close performs an orderly shutdown: stop accepting work, flush-reject the
// write queue, stop the subprocess, and fail anything still pending.
func (c *Client) Close() error {
	cur := c.state.current()
	if cur == StateDisconnected || cur == StateDisconnecting {
		return nil
	}
	if err := c.state.transition(cur, StateDisconnecting); err != nil {
		return nil
	}
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	c.connMu.Lock()
	proc := c.proc
	queue := c.queue
	cancel := c.runCancel
	readDone := c.readDone
	c.proc = nil
	c.queue = nil
	c.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if queue != nil {
		queue.close()
	}
	if proc != nil {
		proc.stop()
	}
	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(2 * time.Second):
			c.cfg.logger.Warn("read loop did not exit during teardown")
		}
	}
	c.failPending(ErrConnectionClosed)
	c.state.set(StateDisconnected)
}

// Call sends a request and decodes the matching response into out. It
// returns *RPCError for an error response, ErrRequestTimeout when no
// response arrives in time, and ErrConnectionClosed (or a *ProcessError)
// when the transport dies while waiting.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.connMu.RLock()
	queue := c.queue
	runCtx := c.runCtx
	proc := c.proc
	c.connMu.RUnlock()
	if queue == nil {
		return ErrNotConnected
	}
	if c.state.current() == StateDisconnecting {
		return ErrDisconnecting
	}

	id := c.ids.nextID()
	ch := make(chan *rpcResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	msg, err := newRequest(id, method, params)
	if err != nil {
		cleanup()
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	if err := queue.write(ctx, msg); err != nil {
		cleanup()
		return err
	}

	timer := time.NewTimer(c.cfg.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.rpcErr != nil {
			return &RPCError{Code: res.rpcErr.Code, Message: res.rpcErr.Message, Data: res.rpcErr.Data}
		}
		if out != nil && len(res.result) > 0 {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		cleanup()
		return fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, c.cfg.requestTimeout)
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	case <-runCtx.Done():
		cleanup()
		if proc != nil {
			if perr := proc.exitError(); perr != nil {
				return perr
			}
		}
		return ErrConnectionClosed
	}
}

// Notify sends a notification. No response is expected; the error reports
// only whether the frame reached the pipe.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	c.connMu.RLock()
	queue := c.queue
	c.connMu.RUnlock()
	if queue == nil {
		return ErrNotConnected
	}
	msg, err := newNotification(method, params)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", method, err)
	}
	return queue.write(ctx, msg)
}

func (c *Client) respond(ctx context.Context, id int64, result any) {
	c.connMu.RLock()
	queue := c.queue
	c.connMu.RUnlock()
	if queue == nil {
		return
	}
	msg, err := newResponse(id, result)
	if err != nil {
		c.cfg.logger.Warn("encode response failed", "id", id, "err", err)
		return
	}
	if err := queue.write(ctx, msg); err != nil {
		c.cfg.logger.Warn("write response failed", "id", id, "err", err)
	}
}

func (c *Client) respondError(ctx context.Context, id int64, code int, message string) {
	c.connMu.RLock()
	queue := c.queue
	c.connMu.RUnlock()
	if queue == nil {
		return
	}
	if err := queue.write(ctx, newErrorResponse(id, code, message)); err != nil {
		c.cfg.logger.Warn("write error response failed", "id", id, "err", err)
	}
}

// HandleRequest registers a handler for a server-to-client request method.
// Unhandled methods get a method-not-found error response.
func (c *Client) HandleRequest(method string, h RequestHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[method] = h
}

// SetNotificationSink replaces the notification sink. Safe to call while
// the read loop is delivering; returns only after in-flight deliveries to
// the previous sink have finished.
func (c *Client) SetNotificationSink(s NotificationSink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = s
}

func (c *Client) readLoop() {
	c.connMu.RLock()
	reader := c.reader
	readDone := c.readDone
	c.connMu.RUnlock()
	defer close(readDone)

	for {
		line, err := reader.ReadLine()
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if errors.Is(err, ndjson.ErrLineTooLong) {
				c.cfg.logger.Warn("dropping oversized frame")
				continue
			}
			c.cfg.logger.Debug("read loop ended", "err", err)
			c.failPending(ErrConnectionClosed)
			return
		}
	}
}

// handleLine routes one frame by shape: id without method is a response, id
// with method is a server request, method alone is a notification.
func (c *Client) handleLine(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.cfg.logger.Warn("dropping unparseable frame", "err", err)
		return
	}

	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(&msg)
	case msg.ID != nil:
		c.handleServerRequest(&msg)
	case msg.Method != "":
		c.handleNotification(&msg)
	default:
		c.cfg.logger.Warn("dropping frame with neither id nor method")
	}
}

func (c *Client) handleResponse(msg *message) {
	id := *msg.ID
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.cfg.logger.Warn("response for unknown request", "id", id)
		return
	}
	select {
	case ch <- &rpcResult{result: msg.Result, rpcErr: msg.Error}:
	default:
	}
}

func (c *Client) handleServerRequest(msg *message) {
	c.handlerMu.RLock()
	h, ok := c.handlers[msg.Method]
	c.handlerMu.RUnlock()

	c.connMu.RLock()
	runCtx := c.runCtx
	c.connMu.RUnlock()

	if !ok {
		c.cfg.logger.Warn("no handler for server request", "method", msg.Method)
		c.respondError(runCtx, *msg.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method))
		return
	}

	id := *msg.ID
	params := msg.Params
	go func() {
		result, jerr := h(runCtx, params)
		if jerr != nil {
			c.respondError(runCtx, id, jerr.Code, jerr.Message)
			return
		}
		c.respond(runCtx, id, result)
	}()
}

func (c *Client) handleNotification(msg *message) {
	n, err := parseNotification(msg.Method, msg.Params)
	if err != nil {
		c.cfg.logger.Warn("dropping malformed notification", "method", msg.Method, "err", err)
		return
	}
	if n == nil {
		c.cfg.logger.Debug("ignoring unknown notification", "method", msg.Method)
		return
	}

	// Deliver under the read lock so SetNotificationSink can block until
	// in-flight deliveries finish.
	c.sinkMu.RLock()
	if c.sink != nil {
		c.sink.HandleNotification(n)
	}
	c.sinkMu.RUnlock()
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pend := c.pending
	c.pending = make(map[int64]chan *rpcResult)
	c.pendingMu.Unlock()
	for _, ch := range pend {
		select {
		case ch <- &rpcResult{err: err}:
		default:
		}
	}
}
