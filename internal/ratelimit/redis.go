package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the sorted set to the window and records the
// request only when the client is under budget, in one round trip.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
if redis.call('ZCARD', key) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[4])
return 1
`)

// RedisWindow is the sliding window kept in Redis sorted sets so several
// proxy instances share one budget per client.
type RedisWindow struct {
	client *redis.Client
	opts   Options
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisWindow(cfg RedisConfig, opts Options) (*RedisWindow, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisWindow{client: client, opts: opts.withDefaults(), prefix: "hlsproxy:ratelimit:"}, nil
}

func (rw *RedisWindow) Close() error {
	return rw.client.Close()
}

func (rw *RedisWindow) Window() time.Duration {
	return rw.opts.Window
}

func (rw *RedisWindow) Take(ctx context.Context, clientID string, now time.Time) (bool, error) {
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-rw.opts.Window).UnixMicro()

	res, err := slidingWindowScript.Run(ctx, rw.client,
		[]string{rw.prefix + clientID},
		strconv.FormatInt(nowMicros, 10),
		strconv.FormatInt(cutoff, 10),
		rw.opts.MaxRequests,
		rw.opts.Window.Milliseconds(),
		strconv.FormatInt(nowMicros, 10)+"-"+uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis sliding window: %w", err)
	}
	return res == 1, nil
}
