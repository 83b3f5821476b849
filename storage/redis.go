package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"

	"github.com/canvasflow/graph-engine/types"
)

const workflowKeyPrefix = "graphengine:workflow:"

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Snapshots are stored as JSON under a per-workflow key.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a RedisStorage and verifies connectivity.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// SaveWorkflow stores the snapshot as JSON.
func (s *RedisStorage) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	return withContextError(ctx, func() error {
		data, err := sonic.Marshal(wf)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow %s: %v", wf.ID, err)
		}
		key := workflowKeyPrefix + wf.ID
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// GetWorkflow retrieves and unmarshals a stored snapshot.
func (s *RedisStorage) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		key := workflowKeyPrefix + id
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return types.Workflow{}, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return types.Workflow{}, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}
		var wf types.Workflow
		if err := sonic.Unmarshal(data, &wf); err != nil {
			return types.Workflow{}, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return wf, nil
	})
}

// DeleteWorkflow removes a stored snapshot.
func (s *RedisStorage) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		key := workflowKeyPrefix + id
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to delete %s from Redis: %v", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: key=%s", ErrNotFound, key)
		}
		return nil
	})
}

// ListWorkflowIDs scans for all stored snapshot keys.
func (s *RedisStorage) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		var ids []string
		iter := s.client.Scan(ctx, 0, workflowKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, strings.TrimPrefix(iter.Val(), workflowKeyPrefix))
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan Redis keys: %v", err)
		}
		return ids, nil
	})
}

// Close releases the Redis connection pool.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
