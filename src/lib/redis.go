package lib

import (
	"context"
	"esm/src/config"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// GetRedisClient returns nil when no redis URL is configured.
func GetRedisClient(cfg config.RedisConfig) *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	if cfg.URL == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		Logger.Error().Err(err).Msg("[redis] error parsing connection string")
		return nil
	}
	redisClient = redis.NewClient(opt)
	return redisClient
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

const releaseLockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker is a best-effort mutual exclusion helper keyed by name.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	token  func() string
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: "lock:",
		token:  uuid.NewString,
	}
}

// WithToken replaces the lock owner token generator.
func (l *RedisLocker) WithToken(fn func() string) *RedisLocker {
	l.token = fn
	return l
}

// Acquire returns ok=false when another holder owns the key. The release
// function deletes the key only while it still holds this caller's token.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error) {
	k := l.prefix + key
	token := l.token()
	ok, err = l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}
	release = func(ctx context.Context) error {
		return l.client.Eval(ctx, releaseLockScript, []string{k}, token).Err()
	}
	return release, true, nil
}
