package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV on a Redis server. The value lives under the key
// itself and its revision counter under key+":rev"; both change in one
// MULTI/EXEC block.
type RedisKV struct {
	client *redis.Client
}

// OpenRedis parses a redis:// URL and verifies the server answers.
func OpenRedis(ctx context.Context, url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisKV{client: client}, nil
}

// NewRedisKV wraps an existing client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Client exposes the underlying connection so the notification bus can share it.
func (r *RedisKV) Client() *redis.Client {
	return r.client
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

func revKey(key string) string { return key + ":rev" }
func tsKey(key string) string  { return key + ":ts" }

func (r *RedisKV) Get(ctx context.Context, key string) (Entry, error) {
	var val *redis.StringCmd
	var rev, ts *redis.StringCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		val = pipe.Get(ctx, key)
		rev = pipe.Get(ctx, revKey(key))
		ts = pipe.Get(ctx, tsKey(key))
		return nil
	})
	if err != nil && err != redis.Nil {
		return Entry{}, fmt.Errorf("reading %q: %w", key, err)
	}

	b, err := val.Bytes()
	if err == redis.Nil {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading %q: %w", key, err)
	}

	e := Entry{Key: key, Value: b}
	if n, err := rev.Int64(); err == nil {
		e.Revision = n
	}
	if s, err := ts.Result(); err == nil {
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return e, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, 0)
		pipe.Set(ctx, tsKey(key), time.Now().UTC().Format(time.RFC3339Nano), 0)
		incr = pipe.Incr(ctx, revKey(key))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("writing %q: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *RedisKV) Revision(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, revKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
