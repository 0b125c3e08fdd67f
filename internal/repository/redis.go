package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"intake-agent/internal/domain"
)

const redisKeyPrefix = "intake:session:"

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// compareAndSetScript replaces KEYS[1] with ARGV[1] only while the stored snapshot's
// version equals ARGV[2]. ARGV[3] is the TTL in milliseconds, 0 for none.
const compareAndSetScript = `
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
local ok, doc = pcall(cjson.decode, cur)
if not ok or tonumber(doc['version']) ~= tonumber(ARGV[2]) then return 0 end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`

// RedisStore keeps one JSON snapshot per session with a sliding TTL.
// Creation is exclusive and later saves compare the stored version in a script.
type RedisStore struct {
	client redisAPI
	ttl    time.Duration
}

func NewRedisStore(client redisAPI, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl < 0 {
		return nil, errors.New("repository: redis ttl must not be negative")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisStore) Load(ctx context.Context, id string) (domain.Session, error) {
	raw, err := r.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: redis get: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.Session{}, fmt.Errorf("repository: redis decode: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("repository: redis encode: %w", err)
	}

	if s.Version == 1 {
		created, err := r.client.SetNX(ctx, redisKey(s.ID), raw, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("repository: redis setnx: %w", err)
		}
		if !created {
			return domain.ErrVersionConflict
		}
		return nil
	}

	swapped, err := r.client.Eval(ctx, compareAndSetScript, []string{redisKey(s.ID)},
		string(raw), s.Version-1, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("repository: redis compare-and-set: %w", err)
	}
	if swapped != 1 {
		return domain.ErrVersionConflict
	}
	return nil
}
