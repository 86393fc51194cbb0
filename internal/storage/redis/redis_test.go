package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/identity-service/internal/storage"
)

// newTestStore starts an in-process Redis (miniredis) and wraps a real
// go-redis client around it, so the commands and the Lua script are
// exercised end to end without a server.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewFromClient(client)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestNew_UnreachableAddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestStore_SetGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "wx_user_id:u1", "openid-1", 0))

	got, err := s.Get(ctx, "wx_user_id:u1")
	require.NoError(t, err)
	assert.Equal(t, "openid-1", got)
	assert.Equal(t, time.Duration(0), mr.TTL("wx_user_id:u1"))
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNil)

	_, err = s.HGet(context.Background(), "missing", "field")
	assert.ErrorIs(t, err, storage.ErrNil)
}

func TestStore_HSetWithTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	err := s.HSet(ctx, "verifyCode:a@x.com", map[string]string{
		"verifyCode": "042133",
		"email":      "a@x.com",
	}, 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, mr.TTL("verifyCode:a@x.com"))

	all, err := s.HGetAll(ctx, "verifyCode:a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "042133", all["verifyCode"])

	mr.FastForward(10*time.Minute + time.Second)

	all, err = s.HGetAll(ctx, "verifyCode:a@x.com")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_HCreate(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	created, err := s.HCreate(ctx, "users:a@x.com", map[string]string{"userId": "first", "email": "a@x.com"}, 0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.HCreate(ctx, "users:a@x.com", map[string]string{"userId": "second"}, 0)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, "first", mr.HGet("users:a@x.com", "userId"))
	assert.Equal(t, "a@x.com", mr.HGet("users:a@x.com", "email"))
}

func TestStore_HCreateWithTTL(t *testing.T) {
	s, mr := newTestStore(t)

	created, err := s.HCreate(context.Background(), "k", map[string]string{"a": "1"}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 5*time.Second, mr.TTL("k"))
}

func TestStore_ScanPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		mr.HSet("users:"+email, "email", email)
	}
	mr.HSet("verifyCode:a@x.com", "verifyCode", "1")

	keys, err := s.ScanPrefix(ctx, "users:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"users:a@x.com", "users:b@x.com", "users:c@x.com"}, keys)
}

func TestStore_ExpireAndDel(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.HSet("h", "a", "1")
	require.NoError(t, s.Expire(ctx, "h", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("h"))

	require.NoError(t, s.Del(ctx, "h"))
	assert.False(t, mr.Exists("h"))
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
