// Package eventbus fans domain events out to in-process listeners.
//
// Publish never blocks: each subscriber has a buffered channel and a full
// buffer drops the event for that subscriber only.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the router.
const (
	SubscriberAdded   = "subscriber.added"
	SubscriberEdited  = "subscriber.edited"
	SubscriberRemoved = "subscriber.removed"
	BroadcastFinished = "broadcast.finished"
	PollOpened        = "poll.opened"
)

type Event struct {
	Type    string
	Time    time.Time
	Actor   string // contact that caused the event
	Subject string // contact, poll id, ...
	Count   int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock across sends: unsubscribe closes under the write lock,
	// so a channel is never sent to after close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
