package personas

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis key layout:
//
//	persona:<userId>  -> JSON persona, expires after ttl
//	personas:all      -> hash userId -> JSON persona, expires ttl after Refresh
const (
	redisPersonaPrefix = "persona:"
	redisListingKey    = "personas:all"
)

// RedisCache shares the persona cache across processes. Redis errors are
// logged and treated as cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func redisPersonaKey(userID string) string { return redisPersonaPrefix + userID }

func (c *RedisCache) Get(ctx context.Context, userID string) (Persona, bool) {
	data, err := c.client.Get(ctx, redisPersonaKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnw("persona_cache_get_failed", "userId", userID, "err", err)
		}
		return Persona{}, false
	}
	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warnw("persona_cache_decode_failed", "userId", userID, "err", err)
		return Persona{}, false
	}
	return p, true
}

func (c *RedisCache) All(ctx context.Context) ([]Persona, bool) {
	values, err := c.client.HGetAll(ctx, redisListingKey).Result()
	if err != nil {
		c.logger.Warnw("persona_cache_list_failed", "err", err)
		return nil, false
	}
	if len(values) == 0 {
		return nil, false
	}
	out := make([]Persona, 0, len(values))
	for userID, raw := range values {
		var p Persona
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			c.logger.Warnw("persona_cache_decode_failed", "userId", userID, "err", err)
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

func (c *RedisCache) Refresh(ctx context.Context, items []Persona) {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, redisListingKey)
	for _, p := range items {
		data, err := json.Marshal(p)
		if err != nil {
			c.logger.Warnw("persona_cache_encode_failed", "userId", p.UserID, "err", err)
			continue
		}
		pipe.HSet(ctx, redisListingKey, p.UserID, data)
		pipe.Set(ctx, redisPersonaKey(p.UserID), data, c.ttl)
	}
	pipe.Expire(ctx, redisListingKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warnw("persona_cache_refresh_failed", "count", len(items), "err", err)
	}
}

// putScript sets the persona key and adds it to the listing only while a
// Refresh-built listing exists. It runs atomically so an expiring listing
// is never recreated without a TTL.
//
//	KEYS[1] persona key, KEYS[2] listing key
//	ARGV[1] JSON persona, ARGV[2] ttl in ms (0 means no expiry), ARGV[3] userId
var putScript = redis.NewScript(`
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	redis.call('HSET', KEYS[2], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

func (c *RedisCache) Put(ctx context.Context, p Persona) {
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.Warnw("persona_cache_encode_failed", "userId", p.UserID, "err", err)
		return
	}
	keys := []string{redisPersonaKey(p.UserID), redisListingKey}
	if err := putScript.Run(ctx, c.client, keys, data, c.ttl.Milliseconds(), p.UserID).Err(); err != nil {
		c.logger.Warnw("persona_cache_put_failed", "userId", p.UserID, "err", err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, userID string) {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, redisPersonaKey(userID))
	pipe.HDel(ctx, redisListingKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warnw("persona_cache_delete_failed", "userId", userID, "err", err)
	}
}

var _ Cache = (*RedisCache)(nil)
