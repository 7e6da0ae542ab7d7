package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trendboard/internal/adapters/config"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
)

const lockPrefix = "trendboard:lock:"

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client wraps Redis client
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr())
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing connection
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Client returns the underlying Redis client
func (c *Client) Client() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Set stores a JSON encoded value with optional TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	start := time.Now()
	err = c.rdb.Set(ctx, key, data, ttl).Err()
	metrics.RecordDBQuery("redis", "set", time.Since(start), err)
	return err
}

// Get decodes a stored value into dest. A missing key is ErrNotFound.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	start := time.Now()
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordDBQuery("redis", "get", time.Since(start), nil)
		return errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	metrics.RecordDBQuery("redis", "get", time.Since(start), err)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete deletes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// AcquireLock takes key for ttl with a random owner token.
// It returns ErrLockNotAcquired when another owner holds the key.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrLockNotAcquired, "lock %s held elsewhere", key)
	}
	return &Lock{client: c, key: lockPrefix + key, token: token}, nil
}

// Release frees the lock if it is still ours. An expired lock taken over
// by another owner is left untouched.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "release lock %s", l.key)
	}
	return nil
}

// Acquire adapts AcquireLock to a release callback
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := c.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
