// README: Change notifications for dashboards over Redis pub/sub channels events:<topic>.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "events:"

type Envelope struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

type Bus struct {
	redis *redis.Client
	log   zerolog.Logger
}

func NewBus(redis *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{redis: redis, log: log.With().Str("component", "events").Logger()}
}

func (b *Bus) Emit(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(Envelope{ID: uuid.NewString(), Topic: topic, At: time.Now().UTC(), Payload: raw})
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channelPrefix+topic, env).Err()
}

// Subscribe streams envelopes for topics until ctx is done; the channel is closed afterwards.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (<-chan Envelope, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = channelPrefix + t
	}
	sub := b.redis.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Debug().Err(err).Str("channel", msg.Channel).Msg("drop malformed event")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Nop discards events when Redis is not configured.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) error { return nil }
