package stream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLog is a Log backed by Redis Streams.
type RedisLog struct {
	client *redis.Client

	// MaxLen caps stream length via approximate trimming. 0 disables.
	MaxLen int64
}

// NewRedisLog creates a log talking to the given Redis address.
func NewRedisLog(addr string) *RedisLog {
	return &RedisLog{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// NewRedisLogFromClient wraps an existing client (connection pooling,
// sentinel and cluster setups are the caller's concern).
func NewRedisLogFromClient(client *redis.Client) *RedisLog {
	return &RedisLog{client: client}
}

// Publish appends fields via XADD and returns the assigned entry ID.
func (l *RedisLog) Publish(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if l.MaxLen > 0 {
		args.MaxLen = l.MaxLen
		args.Approx = true
	}

	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s: %w", stream, err)
	}
	return id, nil
}

// Read returns up to count entries after lastID via XRANGE.
func (l *RedisLog) Read(ctx context.Context, stream, lastID string, count int) ([]Message, error) {
	start := "-"
	if lastID != "" {
		// Exclusive range start: entries strictly after lastID.
		start = "(" + lastID
	}

	var (
		entries []redis.XMessage
		err     error
	)
	if count > 0 {
		entries, err = l.client.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	} else {
		entries, err = l.client.XRange(ctx, stream, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange on %s: %w", stream, err)
	}

	result := make([]Message, 0, len(entries))
	for _, entry := range entries {
		fields := make(map[string]string, len(entry.Values))
		for k, v := range entry.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		result = append(result, Message{ID: entry.ID, Fields: fields})
	}
	return result, nil
}

// Ping verifies connectivity.
func (l *RedisLog) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

// Compile-time check that RedisLog implements Log.
var _ Log = (*RedisLog)(nil)
