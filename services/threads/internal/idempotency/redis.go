package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "threads:decision:"

type redisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisLedger(url string, ttl time.Duration) *redisLedger {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return &redisLedger{client: redis.NewClient(opts), ttl: ttl}
}

func (l *redisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, redisKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *redisLedger) Record(ctx context.Context, e Entry) error {
	err := l.client.SetArgs(ctx, redisKeyPrefix+e.EventID, e.CommentID+"|"+e.Outcome, redis.SetArgs{
		Mode: "NX",
		TTL:  l.ttl,
	}).Err()
	// redis.Nil: the key already exists.
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (l *redisLedger) Close() error { return l.client.Close() }
