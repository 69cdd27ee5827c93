package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

// DefaultChannelPrefix prefixes the Redis channel of every hub
const DefaultChannelPrefix = "hub-events:"

// RedisRelay implements ephemeral.EventPublisher across instances. Publish
// sends events to Redis; Run receives every instance's events and hands them
// to the local Broadcaster, so a viewer sees changes made anywhere.
type RedisRelay struct {
	client    redis.UniversalClient
	local     *Broadcaster
	prefix    string
	logger    *slog.Logger
	ready     chan struct{}
	readyOnce sync.Once
}

// RelayOption configures a RedisRelay
type RelayOption func(*RedisRelay)

// WithChannelPrefix namespaces the relay's Redis channels
func WithChannelPrefix(prefix string) RelayOption {
	return func(r *RedisRelay) {
		r.prefix = prefix
	}
}

// WithRelayLogger sets the logger for the relay
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *RedisRelay) {
		r.logger = logger
	}
}

// NewRedisRelay creates a relay feeding local
func NewRedisRelay(client redis.UniversalClient, local *Broadcaster, opts ...RelayOption) *RedisRelay {
	r := &RedisRelay{
		client: client,
		local:  local,
		prefix: DefaultChannelPrefix,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish sends event to every instance, including this one.
func (r *RedisRelay) Publish(ctx context.Context, event ephemeral.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+event.HubID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Ready is closed once Run's subscription is active
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to every hub channel and forwards events until ctx is done.
// go-redis re-establishes the subscription after connection loss.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for confirmation that the subscription exists
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to hub events: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("Hub event relay subscribed", "pattern", r.prefix+"*")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, msg *redis.Message) {
	var event ephemeral.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Warn("Discarding malformed hub event", "channel", msg.Channel, "err", err)
		return
	}
	// The channel name is authoritative for routing
	event.HubID = strings.TrimPrefix(msg.Channel, r.prefix)

	if err := r.local.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to deliver relayed event", "hub_id", event.HubID, "err", err)
	}
}

var _ ephemeral.EventPublisher = (*RedisRelay)(nil)
