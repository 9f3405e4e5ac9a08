package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisPresence mirrors live connection counts into redis so processes
// outside the chat server can tell who is online.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(ctx context.Context, addr string) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPresence{rdb: rdb}, nil
}

func presenceKey(identity string) string { return "chat:presence:" + identity }

// Update records the identity's live connection count, deleting the key at zero.
func (p *RedisPresence) Update(ctx context.Context, identity string, connections int) error {
	if connections <= 0 {
		return p.rdb.Del(ctx, presenceKey(identity)).Err()
	}
	return p.rdb.Set(ctx, presenceKey(identity), connections, 0).Err()
}

// Online returns the mirrored connection count for identity.
func (p *RedisPresence) Online(ctx context.Context, identity string) (int, bool, error) {
	val, err := p.rdb.Get(ctx, presenceKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("presence value %q: %w", val, err)
	}
	return n, true, nil
}

func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}
