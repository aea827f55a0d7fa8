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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/internal/ndjson"
)

// syncBuffer is a goroutine-safe sink for queue output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := bytes.TrimRight(b.buf.Bytes(), "\n")
	if len(data) == 0 {
		return nil
	}
	return bytes.Split(data, []byte("\n"))
}

func TestWriteQueueOrder(t *testing.T) {
	var buf syncBuffer
	q := newWriteQueue(ndjson.NewWriter(&buf), nil)
	defer q.close()

	const n = 20
	for i := 0; i < n; i++ {
		msg, err := newNotification("test/seq", map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, q.write(context.Background(), msg))
	}

	lines := buf.lines()
	require.Len(t, lines, n)
	for i, line := range lines {
		var msg message
		require.NoError(t, json.Unmarshal(line, &msg))
		assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(msg.Params))
	}
}

func TestWriteQueueConcurrentWriters(t *testing.T) {
	var buf syncBuffer
	q := newWriteQueue(ndjson.NewWriter(&buf), nil)
	defer q.close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, _ := newNotification("test/concurrent", map[string]int{"i": i})
			assert.NoError(t, q.write(context.Background(), msg))
		}(i)
	}
	wg.Wait()

	// Every frame is a complete line; nothing interleaved.
	lines := buf.lines()
	require.Len(t, lines, n)
	for _, line := range lines {
		var msg message
		require.NoError(t, json.Unmarshal(line, &msg))
		assert.Equal(t, "test/concurrent", msg.Method)
	}
}

func TestWriteQueueCloseRejects(t *testing.T) {
	var buf syncBuffer
	q := newWriteQueue(ndjson.NewWriter(&buf), nil)
	q.close()

	msg, err := newNotification("test/late", nil)
	require.NoError(t, err)
	err = q.write(context.Background(), msg)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWriteQueueCloseIdempotent(t *testing.T) {
	var buf syncBuffer
	q := newWriteQueue(ndjson.NewWriter(&buf), nil)
	q.close()
	q.close()
}

// A runtime that stops reading stdin leaves the drainer stuck inside an
// in-flight write. close must abort that write and return instead of
// waiting for a reader that will never come.
func TestWriteQueueCloseUnblocksStalledWrite(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	q := newWriteQueue(ndjson.NewWriter(pw), func() { _ = pw.Close() })

	msg, err := newNotification("turn/started", nil)
	require.NoError(t, err)
	done := q.enqueue(msg)
	time.Sleep(50 * time.Millisecond) // let the drainer block in Write

	closed := make(chan struct{})
	go func() {
		q.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a pipe with no reader")
	}
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("stalled write never resolved")
	}
}
