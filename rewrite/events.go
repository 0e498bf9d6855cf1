// Package rewrite orchestrates streaming field-rewrite operations against an
// LLM backend: one cancellable operation per (item, message, target) key, live
// extraction of reasoning/answer text while chunks arrive, and a merge into
// the document only on successful completion.
package rewrite

import "sync"

// State is the lifecycle position of one rewrite operation.
type State int

const (
	StateStarting State = iota + 1
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Event is a progress update for one operation. During streaming, Reasoning
// and Answer carry the live preview buffers; on completion they carry the
// final extracted values.
type Event struct {
	OpID  string
	Key   OpKey
	State State

	Reasoning string
	Answer    string

	Err error
}

// Bus distributes operation events to subscribers (a UI layer, a progress
// printer). Publish never blocks: a subscriber that falls behind loses events
// rather than stalling the operation.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 128)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
