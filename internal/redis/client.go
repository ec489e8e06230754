package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const lockKeyPrefix = "lock:"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// TryLock takes a short-lived exclusive lock on key. When acquired is false
// another holder owns it and release is nil.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	ok, err := c.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, c.Client, []string{lockKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", lockKey).Msg("failed to release lock")
		}
	}
	return release, true, nil
}

func EventChannel(topic string) string {
	return fmt.Sprintf("events:%s", topic)
}
