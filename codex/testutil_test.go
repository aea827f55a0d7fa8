package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/internal/ndjson"
)

// fakeRuntime is the far side of the stdio transport: it reads the frames
// the client writes and lets tests script responses, notifications, and
// server-to-client requests.
type fakeRuntime struct {
	t      *testing.T
	reader *ndjson.Reader
	writer *ndjson.Writer

	toClient   *io.PipeWriter
	fromClient io.Closer
}

// bufferedPipe is an in-memory stream with an unbounded buffer. The
// client-to-runtime direction uses it instead of io.Pipe so a synchronous
// client write (e.g. Notify) completes before the test reads the frame,
// matching the kernel-buffered stdin of a real subprocess.
type bufferedPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBufferedPipe() *bufferedPipe {
	p := &bufferedPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufferedPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(b)
	p.cond.Broadcast()
	return n, err
}

func (p *bufferedPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *bufferedPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// newFakeClient wires a Client to a scripted runtime over in-memory pipes.
func newFakeClient(t *testing.T, opts ...ClientOption) (*Client, *fakeRuntime) {
	t.Helper()

	clientIn, runtimeOut := io.Pipe()
	clientOut := newBufferedPipe()

	c := NewClient(opts...)
	c.connectPipes(clientIn, clientOut)

	rt := &fakeRuntime{
		t:          t,
		reader:     ndjson.NewReader(clientOut),
		writer:     ndjson.NewWriter(runtimeOut),
		toClient:   runtimeOut,
		fromClient: clientOut,
	}
	t.Cleanup(func() {
		rt.close()
		_ = c.Close()
	})
	return c, rt
}

// newTestAgent wires a full Agent to a scripted runtime, skipping process
// spawn and handshake.
func newTestAgent(t *testing.T, opts ...Option) (*Agent, *fakeRuntime) {
	t.Helper()

	a := NewAgent(opts...)

	clientIn, runtimeOut := io.Pipe()
	clientOut := newBufferedPipe()
	a.client.connectPipes(clientIn, clientOut)

	rt := &fakeRuntime{
		t:          t,
		reader:     ndjson.NewReader(clientOut),
		writer:     ndjson.NewWriter(runtimeOut),
		toClient:   runtimeOut,
		fromClient: clientOut,
	}
	t.Cleanup(func() {
		rt.close()
		_ = a.Close()
	})
	return a, rt
}

func (rt *fakeRuntime) close() {
	_ = rt.toClient.Close()
	_ = rt.fromClient.Close()
}

// readMessage returns the next frame the client wrote.
func (rt *fakeRuntime) readMessage() *message {
	rt.t.Helper()
	line, err := rt.reader.ReadLine()
	require.NoError(rt.t, err)
	var msg message
	require.NoError(rt.t, json.Unmarshal(line, &msg))
	return &msg
}

// expectRequest asserts the next frame is a request with the given method.
func (rt *fakeRuntime) expectRequest(method string) *message {
	rt.t.Helper()
	msg := rt.readMessage()
	require.NotNil(rt.t, msg.ID, "expected a request, got %s", string(msg.Params))
	require.Equal(rt.t, method, msg.Method)
	return msg
}

// expectResponse asserts the next frame is a response to the given id and
// returns its raw result.
func (rt *fakeRuntime) expectResponse(id int64) json.RawMessage {
	rt.t.Helper()
	msg := rt.readMessage()
	require.NotNil(rt.t, msg.ID)
	require.Equal(rt.t, id, *msg.ID)
	require.Empty(rt.t, msg.Method)
	require.Nil(rt.t, msg.Error, "expected a result, got error %v", msg.Error)
	return msg.Result
}

func (rt *fakeRuntime) respond(id int64, result string) {
	rt.t.Helper()
	rt.writeRaw(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func (rt *fakeRuntime) respondError(id int64, code int, message string) {
	rt.t.Helper()
	rt.writeRaw(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, id, code, message))
}

func (rt *fakeRuntime) notify(method, params string) {
	rt.t.Helper()
	rt.writeRaw(fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s}`, method, params))
}

func (rt *fakeRuntime) request(id int64, method, params string) {
	rt.t.Helper()
	rt.writeRaw(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, id, method, params))
}

func (rt *fakeRuntime) writeRaw(line string) {
	rt.t.Helper()
	require.NoError(rt.t, rt.writer.WriteRaw([]byte(line)))
}

// callAsync runs a Call on its own goroutine so the test can script the
// runtime side synchronously.
func callAsync(ctx context.Context, c *Client, method string, params, out any) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Call(ctx, method, params, out)
	}()
	return errCh
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for call to return")
		return nil
	}
}

func waitNotification(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}
