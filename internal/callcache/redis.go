package callcache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DefaultKeyPrefix namespaces call results in Redis.
const DefaultKeyPrefix = "outreach:call:"

type redisEntry struct {
	Result     model.CallResult `json:"result"`
	InsertedAt time.Time        `json:"inserted_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Redis is a Store shared across processes. Expiry is delegated to Redis.
type Redis struct {
	rdb        redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, defaultTTL: defaultTTL, now: time.Now}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Set(ctx context.Context, key string, v model.CallResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	now := r.now()
	b, err := json.Marshal(redisEntry{Result: v, InsertedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return eris.Wrap(err, "callcache: marshal entry")
	}
	if err := r.rdb.Set(ctx, r.key(key), b, ttl).Err(); err != nil {
		return eris.Wrapf(err, "callcache: set %s", key)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (model.CallResult, bool, error) {
	e, ok, err := r.entry(ctx, r.key(key))
	if err != nil || !ok {
		return model.CallResult{}, false, err
	}
	return e.Result, true, nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, eris.Wrapf(err, "callcache: exists %s", key)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return eris.Wrapf(err, "callcache: delete %s", key)
	}
	return nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return Stats{}, err
	}

	out := Stats{Entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		e, ok, err := r.entry(ctx, k)
		if err != nil {
			return Stats{}, err
		}
		if !ok {
			continue
		}
		out.Entries = append(out.Entries, Entry{
			Key:        k[len(r.prefix):],
			Status:     string(e.Result.Status),
			InsertedAt: e.InsertedAt,
			ExpiresAt:  e.ExpiresAt,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		return out.Entries[i].InsertedAt.Before(out.Entries[j].InsertedAt)
	})
	out.Size = len(out.Entries)
	return out, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return eris.Wrap(err, "callcache: clear")
	}
	return nil
}

func (r *Redis) entry(ctx context.Context, fullKey string) (redisEntry, bool, error) {
	b, err := r.rdb.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisEntry{}, false, nil
	}
	if err != nil {
		return redisEntry{}, false, eris.Wrapf(err, "callcache: get %s", fullKey)
	}
	var e redisEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return redisEntry{}, false, eris.Wrapf(err, "callcache: decode %s", fullKey)
	}
	return e, true, nil
}

func (r *Redis) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "callcache: scan")
	}
	return keys, nil
}
