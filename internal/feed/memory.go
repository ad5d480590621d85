// README: In-process feed; callbacks run synchronously on the publisher's goroutine.
package feed

import (
	"context"
	"sync"
)

type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

type subscription struct {
	filter Filter
	cb     Callback
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]subscription)}
}

func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	targets := make([]Callback, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(e) {
			targets = append(targets, s.cb)
		}
	}
	b.mu.RUnlock()

	for _, cb := range targets {
		cb(e)
	}
	return nil
}

func (b *Bus) OnChange(ctx context.Context, f Filter, cb Callback) (Unsubscribe, error) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = subscription{filter: f, cb: cb}
	b.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()
	return unsubscribe, nil
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
