package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "ascend:sessions"

// RedisStore keeps registrations in one Redis hash, for sessions spread
// over several machines sharing a filesystem.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: defaultRedisKey}
}

func (s *RedisStore) Register(ctx context.Context, notebookPath, addr string) error {
	if err := s.client.HSet(ctx, s.key, notebookPath, addr).Err(); err != nil {
		return fmt.Errorf("register %s: %w", notebookPath, err)
	}
	return nil
}

func (s *RedisStore) Unregister(ctx context.Context, notebookPath string) error {
	if err := s.client.HDel(ctx, s.key, notebookPath).Err(); err != nil {
		return fmt.Errorf("unregister %s: %w", notebookPath, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) (map[string]string, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return entries, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
