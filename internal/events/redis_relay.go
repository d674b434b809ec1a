package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay mirrors locally published events onto a Redis pub/sub channel
// and re-injects events published by other instances into the local
// dispatcher, so every instance's live viewers see the full stream.
type RedisRelay struct {
	client     *redis.Client
	dispatcher Dispatcher
	logger     *zap.Logger
	channel    string
	origin     string
	local      Subscription
	pubsub     *redis.PubSub
	cancel     context.CancelFunc
}

// NewRedisRelay constructs a relay over the given channel.
func NewRedisRelay(client *redis.Client, dispatcher Dispatcher, logger *zap.Logger, channel string) *RedisRelay {
	return &RedisRelay{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
		channel:    channel,
		origin:     uuid.NewString(),
	}
}

// Start begins relaying in both directions. A nil Redis client disables the
// relay without error so single-instance deployments work unchanged.
func (r *RedisRelay) Start(ctx context.Context) {
	if r.client == nil {
		r.logger.Info("redis relay disabled; no client configured")
		return
	}

	relayCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.local = r.dispatcher.SubscribeAll(r.forward)
	r.pubsub = r.client.Subscribe(relayCtx, r.channel)

	go r.receive(relayCtx)
	r.logger.Info("redis relay started", zap.String("channel", r.channel))
}

// Stop tears down both directions of the relay.
func (r *RedisRelay) Stop() {
	if r.local != nil {
		r.local.Cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
}

func (r *RedisRelay) forward(ctx context.Context, event Event) error {
	payload, ok, err := r.outbound(event)
	if !ok || err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// outbound stamps a locally published event with this instance's origin id
// and serializes it. Events already carrying a foreign origin came in over
// the relay; re-publishing them would loop, so they are dropped.
func (r *RedisRelay) outbound(event Event) ([]byte, bool, error) {
	if event.Origin != "" && event.Origin != r.origin {
		return nil, false, nil
	}
	event.Origin = r.origin
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (r *RedisRelay) receive(ctx context.Context) {
	for msg := range r.pubsub.Channel() {
		event, ok := r.inbound([]byte(msg.Payload))
		if !ok {
			continue
		}
		_ = r.dispatcher.Publish(ctx, event)
	}
}

// inbound deserializes a relayed payload and drops this instance's own
// echoes, which every subscriber of the channel receives back.
func (r *RedisRelay) inbound(payload []byte) (Event, bool) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Warn("discarding malformed relay event", zap.Error(err))
		return Event{}, false
	}
	if event.Origin == r.origin {
		return Event{}, false
	}
	return event, true
}
