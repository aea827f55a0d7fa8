package codex

import (
	"context"
	"sync"

	"github.com/bazelment/agentbridge/internal/ndjson"
)

type writeRequest struct {
	msg  *message
	done chan error
}

// writeQueue serializes all outbound frames through a single drainer
// goroutine so concurrent callers never interleave bytes on stdin. Frames go
// out in submission order and each caller learns the fate of its own write.
type writeQueue struct {
	w *ndjson.Writer

	// abort closes the underlying pipe so a write stalled on a full or
	// unread pipe unblocks during close. Nil when the writer has no
	// out-of-band closer.
	abort func()

	mu      sync.Mutex
	pending []writeRequest
	closed  bool

	wake      chan struct{}
	drained   chan struct{}
	abortOnce sync.Once
}

func newWriteQueue(w *ndjson.Writer, abort func()) *writeQueue {
	q := &writeQueue{
		w:       w,
		abort:   abort,
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go q.drain()
	return q
}

// enqueue schedules a frame and returns a channel that resolves with the
// write's outcome. After close, the channel resolves ErrConnectionClosed.
func (q *writeQueue) enqueue(msg *message) <-chan error {
	done := make(chan error, 1)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrConnectionClosed
		return done
	}
	q.pending = append(q.pending, writeRequest{msg: msg, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return done
}

// write enqueues and waits for the frame to reach the pipe.
func (q *writeQueue) write(ctx context.Context, msg *message) error {
	done := q.enqueue(msg)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *writeQueue) drain() {
	defer close(q.drained)
	for {
		q.mu.Lock()
		reqs := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		if closed {
			for _, r := range reqs {
				r.done <- ErrConnectionClosed
			}
			return
		}
		for _, r := range reqs {
			r.done <- q.w.WriteJSON(r.msg)
		}
		if len(reqs) > 0 {
			continue
		}
		<-q.wake
	}
}

// close stops the drainer and rejects everything still queued. The
// underlying pipe is closed first: a runtime that stopped reading stdin
// would otherwise hold an in-flight WriteJSON forever and wedge teardown
// before the process stop escalation. Blocks until the drainer has exited,
// so no write can race a pipe teardown.
func (q *writeQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.unblock()
		<-q.drained
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.unblock()
	<-q.drained
}

func (q *writeQueue) unblock() {
	if q.abort != nil {
		q.abortOnce.Do(q.abort)
	}
}
