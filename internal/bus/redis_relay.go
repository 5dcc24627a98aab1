package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRelay fans events out over a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

// DialRedisRelay connects to addr and checks the server answers.
func DialRedisRelay(ctx context.Context, addr, channel string) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisRelay(client, channel), nil
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, body).Err()
}

func (r *RedisRelay) Consume(ctx context.Context, handle func(Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// wait for the subscription confirmation so nothing published after this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis relay: subscription closed")
			}
			if ev, ok := decodeEvent([]byte(msg.Payload)); ok {
				handle(ev)
			}
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
