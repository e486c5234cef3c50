package realtime

import (
	"context"
	"sync"

	"github.com/evyataryagoni/membermap/internal/models"
)

// MemoryBroker fans events out inside one process.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewMemoryBroker creates a broker whose subscribers queue up to buffer events.
func NewMemoryBroker(buffer int) *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Publish delivers event to every subscriber in publish order. A
// subscriber whose queue is full is dropped with ErrSlowSubscriber.
func (b *MemoryBroker) Publish(_ context.Context, event models.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for sub := range b.subs {
		if !sub.deliver(event) {
			sub.closeWith(ErrSlowSubscriber)
			delete(b.subs, sub)
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (b *MemoryBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := newSubscription(b.buffer)
	sub.onClose = func() { b.remove(sub) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.watch(ctx)
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (b *MemoryBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription with ErrBrokerClosed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.closeWith(ErrBrokerClosed)
	}
	b.subs = make(map[*Subscription]struct{})
	return nil
}

func (b *MemoryBroker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
