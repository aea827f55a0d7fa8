package codex

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bazelment/agentbridge/agentstream"
)

// bridgeQueueCap bounds how many undelivered events a turn can buffer. A
// consumer that stops pulling loses the oldest events, never the completion.
const bridgeQueueCap = 1024

// eventBridge buffers translated events for one turn and hands them to a
// pulling consumer. The completion event is delivered exactly once, after
// everything buffered before it has drained.
type eventBridge struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     []agentstream.Event
	completed bool
	delivered bool
	complete  agentstream.CompleteEvent

	wake chan struct{}
}

func newEventBridge(logger *slog.Logger) *eventBridge {
	if logger == nil {
		logger = nopLogger
	}
	return &eventBridge{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// push buffers events for the consumer. A CompleteEvent marks the turn
// finished; any further CompleteEvent is dropped.
func (b *eventBridge) push(events ...agentstream.Event) {
	b.mu.Lock()
	for _, ev := range events {
		if ce, ok := ev.(agentstream.CompleteEvent); ok {
			if b.completed {
				continue
			}
			b.completed = true
			b.complete = ce
			continue
		}
		if b.completed {
			b.logger.Debug("dropping event after turn completion",
				"kind", ev.StreamEventKind().String())
			continue
		}
		if len(b.queue) >= bridgeQueueCap {
			dropped := b.queue[0]
			b.queue = b.queue[1:]
			b.logger.Warn("event queue full, dropping oldest",
				"kind", dropped.StreamEventKind().String())
		}
		b.queue = append(b.queue, ev)
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Next returns the next buffered event, blocking until one arrives, the
// context ends, or the turn is complete. After the CompleteEvent has been
// returned, every further call returns ErrTurnComplete.
func (b *eventBridge) Next(ctx context.Context) (agentstream.Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, nil
		}
		if b.completed {
			if !b.delivered {
				b.delivered = true
				ev := b.complete
				b.mu.Unlock()
				return ev, nil
			}
			b.mu.Unlock()
			return nil, ErrTurnComplete
		}
		b.mu.Unlock()

		select {
		case <-b.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *eventBridge) isCompleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// finalUsage reports the completion's usage once the turn has finished.
func (b *eventBridge) finalUsage() (agentstream.Usage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.completed {
		return agentstream.Usage{}, false
	}
	return b.complete.Usage, true
}
