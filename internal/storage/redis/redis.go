// Package redis implements storage.KV on top of go-redis.
//
// This is the production backend: every API instance talks to the same
// Redis, which serializes each single command. The one multi-command
// operation that must be atomic (HCreate) runs as a Lua script, so Redis
// executes the EXISTS check and the HSET as one unit.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/identity-service/internal/storage"
)

var _ storage.KV = (*Store)(nil)

// scanBatch is the COUNT hint passed to SCAN. It bounds the work Redis does
// per round trip, not the number of keys returned.
const scanBatch = 100

// hcreateScript creates a hash only when the key is absent.
// KEYS[1] = key, ARGV[1] = ttl in milliseconds (0 = none), ARGV[2..] = field/value pairs.
var hcreateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store wraps a go-redis client. It owns the client and closes it in Close.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection with PING, so a wrong
// address fails at startup instead of on the first request.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: pinging %s: %w", opts.Addr, err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client (used by tests against miniredis).
func NewFromClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", storage.ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("redis: GET %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	// KeepTTL mirrors the "ttl == 0 leaves expiry alone" convention.
	if ttl > 0 {
		err := s.client.Set(ctx, key, value, ttl).Err()
		if err != nil {
			return fmt.Errorf("redis: SET %s: %w", key, err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, value, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis: SET %s: %w", key, err)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", storage.ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("redis: HGET %s %s: %w", key, field, err)
	}
	return v, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: HGETALL %s: %w", key, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// HSet writes fields and, when ttl > 0, resets the expiry in the same
// MULTI/EXEC block so a reader never sees fresh fields on a key that is
// about to vanish with the old TTL.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: HSET %s: %w", key, err)
	}
	return nil
}

func (s *Store) HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("redis: HCreate %s: no fields", key)
	}
	args := make([]any, 0, 1+2*len(fields))
	args = append(args, ttl.Milliseconds())
	for k, v := range fields {
		args = append(args, k, v)
	}
	created, err := hcreateScript.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis: HCreate %s: %w", key, err)
	}
	return created == 1, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis: EXPIRE %s: %w", key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: DEL: %w", err)
	}
	return nil
}

// ScanPrefix walks the keyspace with SCAN (never KEYS, which blocks the
// server on large databases) until the cursor wraps back to 0.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: SCAN %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return dedupe(keys), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// dedupe drops repeats: SCAN may return a key more than once when the
// keyspace is rehashed mid-iteration.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
