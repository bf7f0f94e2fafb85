package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/service"
	"pulse-api/pkg/logger"
	"pulse-api/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

const (
	channelPrefix         = "realtime:"
	subscribeConfirmation = 5 * time.Second
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// RedisBus publishes snapshots on Redis pub/sub and relays every instance's
// publications to the local hub, so a refresh on any instance reaches
// subscribers on all of them.
type RedisBus struct {
	redis  *redis.Client
	hub    *Hub
	logger *logger.Logger
}

// NewRedisBus creates a new bus
func NewRedisBus(client *redis.Client, hub *Hub, log *logger.Logger) *RedisBus {
	return &RedisBus{redis: client, hub: hub, logger: log.Named("realtime_bus")}
}

// PublishQuestion implements service.SnapshotPublisher
func (b *RedisBus) PublishQuestion(ctx context.Context, snap *domain.AggregateSnapshot) error {
	payload, err := json.Marshal(ServerMessage{Type: TypeSnapshot, QuestionID: snap.QuestionID, Payload: snap})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = b.redis.Publish(ctx, b.redis.KeyBuilder.ChannelQuestion(snap.QuestionID), payload)
	return err
}

// PublishGlobal implements service.SnapshotPublisher
func (b *RedisBus) PublishGlobal(ctx context.Context, stats *domain.GlobalStats) error {
	payload, err := json.Marshal(ServerMessage{Type: TypeGlobal, Payload: stats})
	if err != nil {
		return fmt.Errorf("encode global stats: %w", err)
	}
	_, err = b.redis.Publish(ctx, b.redis.KeyBuilder.ChannelGlobal(), payload)
	return err
}

// Run relays publications to the hub until ctx ends, resubscribing with
// backoff whenever the subscription drops.
func (b *RedisBus) Run(ctx context.Context) {
	pattern := b.redis.KeyBuilder.ChannelPattern()
	backoff := initialReconnectDelay

	for attempt := 1; ; attempt++ {
		established, err := b.relay(ctx, pattern)
		if ctx.Err() != nil {
			b.logger.Info("Realtime relay stopped")
			return
		}
		if established {
			backoff = initialReconnectDelay
		}

		log := b.logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"backoff": backoff.String(),
		})
		if err != nil {
			log.WithError(err).Warn("Realtime subscription failed, will retry")
		} else {
			log.Warn("Realtime subscription closed, will retry")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = service.NextBackoff(backoff, maxReconnectDelay)
	}
}

// relay runs one subscription. established reports whether Redis
// confirmed it before it ended.
func (b *RedisBus) relay(ctx context.Context, pattern string) (established bool, err error) {
	pubsub := b.redis.PSubscribe(ctx, pattern)
	defer func() {
		if cerr := pubsub.Close(); cerr != nil {
			b.logger.WithError(cerr).Debug("Closing realtime subscription")
		}
	}()

	confirmCtx, cancel := context.WithTimeout(ctx, subscribeConfirmation)
	_, err = pubsub.Receive(confirmCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("confirm subscription: %w", err)
	}
	b.logger.WithField("pattern", pattern).Info("Realtime relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, nil
			}
			b.forward(msg)
		}
	}
}

func (b *RedisBus) forward(msg *goredis.Message) {
	topic := strings.TrimPrefix(b.redis.KeyBuilder.StripPrefix(msg.Channel), channelPrefix)
	if topic != GlobalTopic {
		if _, ok := questionFromTopic(topic); !ok {
			b.logger.WithField("channel", msg.Channel).Warn("Ignoring message on unknown channel")
			return
		}
	}
	b.hub.Broadcast(topic, []byte(msg.Payload))
}

var _ service.SnapshotPublisher = (*RedisBus)(nil)
