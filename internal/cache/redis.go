// Package cache shares governor cooldowns between ingester processes through Redis.
package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "riot-ingester:cooldown:"

// Cooldowns stores bucket pause deadlines in Redis so that several ingesters
// running against one API key back off together.
type Cooldowns struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCooldowns connects to the Redis server at url (redis://host:port/db).
func NewCooldowns(ctx context.Context, url string, logger *zap.Logger) (*Cooldowns, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", opts.Addr)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Cooldowns{client: rdb, logger: logger}, nil
}

// extendPause sets KEYS[1] to the deadline ARGV[1] (unix ms) with a TTL of
// ARGV[2] ms unless a later deadline is stored already.
var extendPause = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Pause records that bucket key must not be used for d. An existing longer
// pause is kept.
func (c *Cooldowns) Pause(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	until := time.Now().Add(d).UnixMilli()
	if err := extendPause.Run(ctx, c.client, []string{keyPrefix + key}, until, d.Milliseconds()).Err(); err != nil {
		return errors.Wrap(err, "write cooldown")
	}
	return nil
}

// PausedUntil returns the pause deadline of bucket key, or the zero time.
func (c *Cooldowns) PausedUntil(ctx context.Context, key string) (time.Time, error) {
	ms, err := c.client.Get(ctx, keyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "read cooldown")
	}
	return time.UnixMilli(ms), nil
}

// Close closes the Redis connection.
func (c *Cooldowns) Close() error {
	return c.client.Close()
}
