package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"collabboard/internal/board"
)

// Redis keeps the board as a Redis list, one encoded stroke per element.
// The list is shared by every node pointed at the same Redis, which is what
// makes a node restart invisible to clients.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis wraps an existing client. The caller owns the client's lifetime;
// the bus usually shares it.
func NewRedis(rdb *redis.Client, boardID string) *Redis {
	return &Redis{rdb: rdb, key: "board:" + boardID}
}

func (r *Redis) Append(ctx context.Context, s board.Stroke) error {
	b, err := board.Encode(s)
	if err != nil {
		return err
	}
	if err := r.rdb.RPush(ctx, r.key, b).Err(); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (r *Redis) AppendMany(ctx context.Context, strokes []board.Stroke) error {
	if len(strokes) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(strokes))
	for _, s := range strokes {
		b, err := board.Encode(s)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	if err := r.rdb.RPush(ctx, r.key, vals...).Err(); err != nil {
		return fmt.Errorf("redis append many: %w", err)
	}
	return nil
}

func (r *Redis) ReadAll(ctx context.Context) ([]board.Stroke, error) {
	raw, err := r.rdb.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read all: %w", err)
	}
	strokes := make([]board.Stroke, 0, len(raw))
	for _, item := range raw {
		s, err := board.Decode([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("redis read all: %w", err)
		}
		strokes = append(strokes, s)
	}
	return strokes, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by whoever created it.
func (r *Redis) Close() error { return nil }
