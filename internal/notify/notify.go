// Package notify fans tile completion events out to subscribers such as the
// browser event stream.
package notify

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Event is sent for every finished tile load.
type Event struct {
	Loaded bool `json:"loaded"`
}

type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped atomic.Int64
	logger  *zap.Logger
}

// New returns a broadcaster whose subscriber channels hold buffer events.
func New(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// TilesUpdated never blocks: subscribers whose buffer is full miss the event.
func (b *Broadcaster) TilesUpdated(loaded bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- Event{Loaded: loaded}:
		default:
			if b.dropped.Add(1)%100 == 1 {
				b.logger.Debug("Dropping tile event for slow subscriber", zap.Int64("dropped", b.dropped.Load()))
			}
		}
	}
}

func (b *Broadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *Broadcaster) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
