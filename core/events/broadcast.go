package events

import (
	"context"
	"sync"

	"homeescrow/core/types"
)

const defaultBacklog = 256

// Broadcaster retains a bounded backlog of events and fans new events out to
// live subscribers. Slow subscribers drop events rather than block the engine.
type Broadcaster struct {
	mu       sync.Mutex
	backlog  []*types.Event
	capacity int
	subs     map[int]chan *types.Event
	nextID   int
}

// NewBroadcaster creates a broadcaster retaining up to capacity events.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = defaultBacklog
	}
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[int]chan *types.Event),
	}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	body, ok := Body(evt)
	if !ok || b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlog = append(b.backlog, body.Clone())
	if len(b.backlog) > b.capacity {
		b.backlog = b.backlog[len(b.backlog)-b.capacity:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- body.Clone():
		default:
		}
	}
}

// Backlog returns the retained events with a sequence greater than after.
func (b *Broadcaster) Backlog(after uint64) []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Event, 0, len(b.backlog))
	for _, evt := range b.backlog {
		if evt.Sequence > after {
			out = append(out, evt.Clone())
		}
	}
	return out
}

// Subscribe registers a live subscriber. The returned cancel function must be
// called to release the subscription; it is also invoked when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}
