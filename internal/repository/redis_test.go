package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"intake-agent/internal/domain"
)

type fakeRedis struct {
	data       map[string]string
	getErr     error
	setErr     error
	lastKey    string
	lastTTL    time.Duration
	lastScript string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lastKey, f.lastTTL = key, expiration
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = string(value.([]byte))
	return redis.NewBoolResult(true, nil)
}

// Eval mirrors compareAndSetScript against the in-memory data.
func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.lastKey, f.lastTTL = keys[0], time.Duration(args[2].(int64))*time.Millisecond
	f.lastScript = script
	if f.setErr != nil {
		return redis.NewCmdResult(nil, f.setErr)
	}
	cur, ok := f.data[keys[0]]
	if !ok {
		return redis.NewCmdResult(int64(0), nil)
	}
	var doc struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal([]byte(cur), &doc); err != nil || doc.Version != args[1].(int64) {
		return redis.NewCmdResult(int64(0), nil)
	}
	f.data[keys[0]] = args[0].(string)
	return redis.NewCmdResult(int64(1), nil)
}

func mustNewRedisStore(t *testing.T, f *fakeRedis) *RedisStore {
	t.Helper()
	s, err := NewRedisStore(f, time.Hour)
	require.NoError(t, err)
	return s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	f := newFakeRedis()
	s := mustNewRedisStore(t, f)
	ctx := context.Background()

	sess := sampleSession(1, domain.Turn{Seq: 1, Sender: domain.SenderBot, Text: "What are your symptoms?"})
	require.NoError(t, s.Save(ctx, sess))
	require.Equal(t, "intake:session:abc", f.lastKey)
	require.Equal(t, time.Hour, f.lastTTL)

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, sess, got)

	sess.Version = 2
	sess.Stage = domain.StageAnalyzing
	require.NoError(t, s.Save(ctx, sess))
	got, err = s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, domain.StageAnalyzing, got.Stage)
}

func TestRedisStore_CreateIsExclusive(t *testing.T) {
	f := newFakeRedis()
	s := mustNewRedisStore(t, f)
	require.NoError(t, s.Save(context.Background(), sampleSession(1)))
	require.ErrorIs(t, s.Save(context.Background(), sampleSession(1)), domain.ErrVersionConflict)
}

func TestRedisStore_UpdateChecksVersion(t *testing.T) {
	f := newFakeRedis()
	s := mustNewRedisStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSession(1)))
	require.NoError(t, s.Save(ctx, sampleSession(2)))
	require.Equal(t, compareAndSetScript, f.lastScript)
	require.Equal(t, time.Hour, f.lastTTL)

	require.ErrorIs(t, s.Save(ctx, sampleSession(2)), domain.ErrVersionConflict)
	require.ErrorIs(t, s.Save(ctx, sampleSession(9)), domain.ErrVersionConflict)

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
}

func TestRedisStore_UpdateOfMissingSessionConflicts(t *testing.T) {
	s := mustNewRedisStore(t, newFakeRedis())
	require.ErrorIs(t, s.Save(context.Background(), sampleSession(2)), domain.ErrVersionConflict)
}

func TestRedisStore_LoadErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := mustNewRedisStore(t, newFakeRedis()).Load(context.Background(), "abc")
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("backend", func(t *testing.T) {
		f := newFakeRedis()
		f.getErr = errors.New("connection refused")
		_, err := mustNewRedisStore(t, f).Load(context.Background(), "abc")
		require.ErrorContains(t, err, "connection refused")
		require.False(t, errors.Is(err, domain.ErrSessionNotFound))
	})

	t.Run("garbage", func(t *testing.T) {
		f := newFakeRedis()
		f.data["intake:session:abc"] = "{not json"
		_, err := mustNewRedisStore(t, f).Load(context.Background(), "abc")
		require.ErrorContains(t, err, "redis decode")
	})
}

func TestRedisStore_SaveErrors(t *testing.T) {
	f := newFakeRedis()
	f.setErr = errors.New("READONLY")
	s := mustNewRedisStore(t, f)

	require.ErrorContains(t, s.Save(context.Background(), sampleSession(1)), "setnx")
	require.ErrorContains(t, s.Save(context.Background(), sampleSession(2)), "compare-and-set")
	require.ErrorContains(t, s.Save(context.Background(), domain.Session{Version: 2}), "session id is required")
}

func TestRedisStore_StoresPlainJSON(t *testing.T) {
	f := newFakeRedis()
	require.NoError(t, mustNewRedisStore(t, f).Save(context.Background(), sampleSession(1)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.data["intake:session:abc"]), &decoded))
	require.Equal(t, "follow_up", decoded["stage"])
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil, time.Hour)
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewRedisStore(newFakeRedis(), -time.Second)
	require.ErrorContains(t, err, "negative")
}
