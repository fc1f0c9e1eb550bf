// Package idempotency remembers which moderation decision events have been
// handled, so a redelivered event is acknowledged without touching the
// comment again.
//
// An event is recorded only after its decision committed or was refused for
// good. A crash in between leaves no record; the redelivered decision then
// meets a comment that is no longer pending and is refused as a conflict.
//
// Backends: Redis (REDIS_URL), else the processed_events table of the threads
// database, else process memory (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry describes one handled decision event.
type Entry struct {
	EventID   string
	CommentID string
	// Outcome is "applied" or the reason the decision was refused.
	Outcome string
}

type Ledger interface {
	// Seen reports whether eventID has been recorded and not yet expired.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record stores e. Recording an event twice keeps the first entry.
	Record(ctx context.Context, e Entry) error
	Close() error
}

// NewLedger picks the best available backend: Redis > Postgres > memory.
// When isProd is true the memory fallback is refused.
func NewLedger(redisURL string, pool *pgxpool.Pool, ttl time.Duration, isProd bool) (Ledger, error) {
	switch {
	case redisURL != "":
		return newRedisLedger(redisURL, ttl), nil
	case pool != nil:
		return newPostgresLedger(pool, ttl), nil
	case isProd:
		return nil, errors.New("production requires REDIS_URL or DATABASE_URL for the decision ledger")
	default:
		return newMemoryLedger(ttl), nil
	}
}
