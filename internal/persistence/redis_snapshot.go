package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/modmail/internal/domain"
)

// RedisSnapshotter keeps the snapshot as one JSON string value.
type RedisSnapshotter struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotter returns a snapshotter writing to key.
func NewRedisSnapshotter(client *redis.Client, key string) *RedisSnapshotter {
	if key == "" {
		key = "modmail:snapshot"
	}
	return &RedisSnapshotter{client: client, key: key}
}

func (r *RedisSnapshotter) Save(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotter) Load(ctx context.Context) (domain.Snapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	return snapshot, true, nil
}
