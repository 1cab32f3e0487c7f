package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connectivity-monitor/internal/types"
)

const (
	redisSnapshotKey    = "connectivity:snapshot"
	redisUpdatesChannel = "connectivity:updates"
)

// RedisStorage stores the latest snapshot under a key and publishes it so
// other processes can follow state changes
type RedisStorage struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisStorage(addr string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStorage{
		client:  client,
		key:     redisSnapshotKey,
		channel: redisUpdatesChannel,
	}, nil
}

func (r *RedisStorage) Save(snapshot *types.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, data, 0)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set/publish: %w", err)
	}

	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
