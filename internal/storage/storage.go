// Package storage defines the key-value store the identity service runs on.
//
// THE STORE CONTRACT:
// Everything the service persists is a string or a hash of strings under a
// namespaced key (users:<email>, verifyCode:<email>, ...). The store must
// support per-key expiry and prefix scans, and it must offer ONE atomic
// primitive: "create this hash only if the key does not exist yet"
// (HCreate). That single primitive is what stops two concurrent
// registrations for the same email from both succeeding.
//
// Nothing here spans keys. Multi-step flows (scan, check, write) are not
// transactional; see the services for which races remain and why.
//
// Two implementations live in sub-packages:
//   - storage/redis  → production, shared between instances
//   - storage/sqlite → single-node / local development, and tests
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned by Get and HGet when the key (or field) does not exist
// or has expired. It mirrors redis.Nil so callers never import a driver.
var ErrNil = errors.New("storage: nil")

// KV is the key-value client every repository is built on.
//
// TTL CONVENTIONS:
//   - ttl > 0   → set (or reset) the key's expiry
//   - ttl == 0  → leave the current expiry as it is (none for a new key)
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	HGet(ctx context.Context, key, field string) (string, error)
	// HGetAll returns an empty, non-nil map for a missing key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// HCreate writes fields only if key does not exist. It reports whether
	// the hash was created.
	HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// ScanPrefix returns every live key starting with prefix, in no
	// particular order.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
