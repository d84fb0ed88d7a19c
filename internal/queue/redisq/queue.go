// Package redisq provides a Redis-list-backed run-request queue so
// scheduler and workers can live in different processes.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uplens/uplens/internal/core"
)

// DefaultKey is the list key used when configuration omits one.
const DefaultKey = "uplens:queue:runs"

// popTimeout bounds each BRPOP so Dequeue can notice context cancellation.
const popTimeout = 5 * time.Second

// Queue carries run requests over a Redis list, LPUSH in and BRPOP out.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue wraps an existing client. An empty key falls back to DefaultKey.
func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue pushes the JSON-encoded request onto the list head.
func (q *Queue) Enqueue(ctx context.Context, req core.RunRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode run request: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Dequeue blocks until a request arrives or the context ends, polling in
// popTimeout slices.
func (q *Queue) Dequeue(ctx context.Context) (core.RunRequest, error) {
	for {
		result, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return core.RunRequest{}, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return core.RunRequest{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		var req core.RunRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			return core.RunRequest{}, fmt.Errorf("decode run request: %w", err)
		}
		return req, nil
	}
}
