package codex

import (
	"context"
	"sync"

	"github.com/bazelment/agentbridge/agentstream"
)

// Turn is the consumer's handle on one exchange: pull events until the
// completion arrives, then ErrTurnComplete.
type Turn struct {
	threadID string
	bridge   *eventBridge

	mu sync.Mutex
	id string
}

func newTurn(threadID string, bridge *eventBridge) *Turn {
	return &Turn{threadID: threadID, bridge: bridge}
}

// ID is the runtime-assigned turn id. Empty until turn/start has been
// acknowledged.
func (t *Turn) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Turn) setID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id = id
}

// ThreadID is the thread this turn belongs to.
func (t *Turn) ThreadID() string {
	return t.threadID
}

// Next returns the next event, blocking until one arrives or the context
// ends. After the turn's CompleteEvent has been delivered, Next returns
// ErrTurnComplete.
func (t *Turn) Next(ctx context.Context) (agentstream.Event, error) {
	return t.bridge.Next(ctx)
}

// Done reports whether the turn has finished, regardless of how much the
// consumer has drained.
func (t *Turn) Done() bool {
	return t.bridge.isCompleted()
}

// Usage reports the turn's final token accounting. The second return is
// false until the turn has finished.
func (t *Turn) Usage() (agentstream.Usage, bool) {
	return t.bridge.finalUsage()
}
