package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
)

// Redis carries events over a Redis pub/sub channel shared by all nodes.
type Redis struct {
	rdb     *redis.Client
	channel string
}

// NewRedis wraps an existing client. The caller owns the client's lifetime;
// the store usually shares it.
func NewRedis(rdb *redis.Client, boardID string) *Redis {
	return &Redis{rdb: rdb, channel: "board-events:" + boardID}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	b, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 64)
	go r.receive(ctx, out)
	return out, nil
}

// receive pumps the pub/sub channel into out, re-subscribing with
// exponential backoff when the connection drops. Malformed payloads are
// logged and skipped so one bad publisher cannot take the node down.
func (r *Redis) receive(ctx context.Context, out chan<- Event) {
	defer close(out)

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0 // keep trying for the node's lifetime
	retry.MaxInterval = 30 * time.Second

	for ctx.Err() == nil {
		pubsub := r.rdb.Subscribe(ctx, r.channel)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					pubsub.Close()
					return
				}
				log.Printf("[bus] receive failed, re-subscribing: %v", err)
				break
			}
			retry.Reset()
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				log.Printf("[bus] dropping malformed event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				pubsub.Close()
				return
			}
		}
		pubsub.Close()
		select {
		case <-time.After(retry.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// Close is a no-op; the shared client is closed by whoever created it.
func (r *Redis) Close() error { return nil }
