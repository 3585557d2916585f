package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type RedisBus struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBus(rdb *redis.Client, deviceID string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: Channel(deviceID)}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// wait for the confirmation so events published right after are not lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }, nil
}
