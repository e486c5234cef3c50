package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

// DefaultChannel is the pub/sub channel carrying member changes.
const DefaultChannel = "members:changes"

// RedisBroker relays events through Redis pub/sub so every server
// instance sees writes made by the others. The client is shared and is
// not closed by the broker.
type RedisBroker struct {
	client  *redis.Client
	channel string
	buffer  int
	logger  *logger.Logger

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

// NewRedisBroker creates a broker on channel.
func NewRedisBroker(client *redis.Client, channel string, buffer int, log *logger.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		buffer:  buffer,
		logger:  log.WithComponent("RedisBroker"),
		subs:    make(map[*Subscription]*redis.PubSub),
	}
}

// Publish sends the JSON-encoded event to the channel.
func (b *RedisBroker) Publish(ctx context.Context, event models.ChangeEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "realtime: encode event")
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return eris.Wrapf(err, "realtime: publish to %s", b.channel)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so events
// published after Subscribe returns are not missed.
func (b *RedisBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "realtime: subscribe to %s", b.channel)
	}

	sub := newSubscription(b.buffer)
	sub.onClose = func() { b.remove(sub) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		pubsub.Close() //nolint:errcheck
		return nil, ErrBrokerClosed
	}
	b.subs[sub] = pubsub
	b.mu.Unlock()

	go b.forward(sub, pubsub)
	sub.watch(ctx)
	return sub, nil
}

// forward decodes pub/sub messages into the subscription until either side closes.
func (b *RedisBroker) forward(sub *Subscription, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var ev models.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable change event")
			continue
		}
		if !sub.deliver(ev) {
			if sub.closeWith(ErrSlowSubscriber) {
				b.logger.Warn().Msg("Disconnecting slow subscriber")
				b.remove(sub)
			}
			return
		}
	}
}

// Close ends every subscription with ErrBrokerClosed.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub, pubsub := range b.subs {
		sub.closeWith(ErrBrokerClosed)
		pubsub.Close() //nolint:errcheck
	}
	b.subs = make(map[*Subscription]*redis.PubSub)
	return nil
}

func (b *RedisBroker) remove(sub *Subscription) {
	b.mu.Lock()
	pubsub, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		pubsub.Close() //nolint:errcheck
	}
}
