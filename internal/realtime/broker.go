// Package realtime fans member change notifications out to subscribers.
//
// A Broker carries models.ChangeEvent values from the write path (the
// member service) to every open Subscription. Delivery is best effort: a
// subscriber that falls too far behind is disconnected rather than
// allowed to stall publishers, and is expected to reconnect and reload.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

var (
	// ErrBrokerClosed is returned by Publish and Subscribe after Close, and
	// reported by subscriptions the broker shut down.
	ErrBrokerClosed = errors.New("realtime: broker closed")

	// ErrSlowSubscriber is reported by a subscription dropped because its
	// queue was full.
	ErrSlowSubscriber = errors.New("realtime: subscriber too slow")
)

// Broker publishes change events to subscribers.
type Broker interface {
	Publish(ctx context.Context, event models.ChangeEvent) error

	// Subscribe opens a subscription that lives until Close is called on
	// it, ctx is done, or the broker shuts down.
	Subscribe(ctx context.Context) (*Subscription, error)

	Close() error
}

// Subscription is one consumer's view of the event stream. Events is
// closed when the subscription ends; Err then says why.
type Subscription struct {
	events chan models.ChangeEvent

	mu      sync.Mutex
	closed  bool
	err     error
	onClose func()
	stop    func() bool
}

func newSubscription(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{events: make(chan models.ChangeEvent, buffer)}
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.events
}

// Err returns nil while the subscription is open or after a plain Close,
// and the reason otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	if s.closeWith(nil) && s.onClose != nil {
		s.onClose()
	}
	return nil
}

// deliver queues ev without blocking. It returns false when the queue is
// full or the subscription is closed.
func (s *Subscription) deliver(ev models.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// closeWith closes the channel once and records err. It reports whether
// this call did the closing.
func (s *Subscription) closeWith(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	close(s.events)
	if s.stop != nil {
		s.stop()
	}
	return true
}

// watch closes the subscription when ctx ends.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { s.Close() }) //nolint:errcheck
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// BrokerConfig holds configuration for creating a broker
type BrokerConfig struct {
	Type    string // "memory" or "redis"
	Channel string // Redis pub/sub channel
	Buffer  int    // per-subscriber queue length

	RedisClient *redis.Client
	Logger      *logger.Logger
}

// NewBroker creates a broker based on the configuration (factory pattern)
func NewBroker(cfg BrokerConfig) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "memory", "":
		return NewMemoryBroker(cfg.Buffer), nil

	case "redis":
		if cfg.RedisClient == nil {
			return nil, eris.New("realtime: redis broker requires a client")
		}
		return NewRedisBroker(cfg.RedisClient, cfg.Channel, cfg.Buffer, cfg.Logger), nil

	default:
		return nil, eris.Errorf("realtime: unknown broker type: %s (supported: 'memory', 'redis')", cfg.Type)
	}
}
